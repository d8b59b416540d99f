package core

import (
	"time"
)

// StyleConfig describes how a character communicates.
type StyleConfig struct {
	Tone      string `json:"tone"`
	Verbosity string `json:"verbosity"`
	Formality string `json:"formality"`
}

// CharacterProfile is one immutable version of a character within a lineage.
// Versions start at 1 and are contiguous; exactly one version per lineage is
// active at any time.
type CharacterProfile struct {
	LineageID     string      `json:"lineage_id"`
	Version       int         `json:"version"`
	ParentVersion *int        `json:"parent_version,omitempty"`
	Alias         string      `json:"alias"`
	Handle        string      `json:"handle"`
	Bio           string      `json:"bio"`
	Traits        []string    `json:"traits"`
	Adjectives    []string    `json:"adjectives"`
	Lore          []string    `json:"lore"`
	Topics        []string    `json:"topics"`
	Style         StyleConfig `json:"style"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EvolutionState is the single mutable record driving branching. Only the
// evolution machine writes it.
type EvolutionState struct {
	LineageID        string    `json:"lineage_id"`
	ActiveVersion    int       `json:"active_version"`
	PostsSinceBranch int       `json:"posts_since_branch"`
	BranchThreshold  int       `json:"branch_threshold"`
	Frozen           bool      `json:"frozen"`
	FrozenReason     string    `json:"frozen_reason,omitempty"`
	RecentPosts      []string  `json:"recent_posts,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RecentPostLimit bounds the post memory fed back into prompts.
const RecentPostLimit = 5

// PostKind distinguishes standalone posts from replies to mentions.
type PostKind string

const (
	KindNewPost PostKind = "new_post"
	KindReply   PostKind = "reply"
)

// PostStatus tracks a record through the dispatch lifecycle.
type PostStatus string

const (
	StatusPending PostStatus = "pending"
	StatusPosted  PostStatus = "posted"
	StatusFailed  PostStatus = "failed"
)

// PostRecord is the audit trail for one attempted content emission. It is
// created Pending before the provider is called so a crash mid-generation is
// visible on restart. Records are never deleted.
type PostRecord struct {
	ID               string     `json:"id"`
	LineageID        string     `json:"lineage_id"`
	Kind             PostKind   `json:"kind"`
	SourceMentionID  string     `json:"source_mention_id,omitempty"`
	GeneratedText    string     `json:"generated_text"`
	CharacterVersion int        `json:"character_version"`
	Status           PostStatus `json:"status"`
	Attempts         int        `json:"attempts"`
	PlatformPostID   string     `json:"platform_post_id,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Mention is an inbound platform message addressed to the agent.
type Mention struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// MentionCursor marks the most recently claimed mention. It advances
// monotonically and is persisted before the corresponding reply is generated,
// which makes mention processing at-most-once.
type MentionCursor struct {
	LastSeenMentionID string    `json:"last_seen_mention_id"`
	LastSeenAt        time.Time `json:"last_seen_at"`
}

// VersionStats counts activity attributed to one character version.
type VersionStats struct {
	LineageID    string    `json:"lineage_id"`
	Version      int       `json:"version"`
	Posts        int       `json:"posts"`
	Replies      int       `json:"replies"`
	MentionsSeen int       `json:"mentions_seen"`
	UpdatedAt    time.Time `json:"updated_at"`
}
