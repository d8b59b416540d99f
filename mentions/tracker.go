// Package mentions polls the platform for inbound mentions and deduplicates
// them against a durable cursor. The cursor is persisted BEFORE a reply is
// generated, which makes processing at-most-once: a crash between claiming
// and posting skips the reply rather than duplicating it.
package mentions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/platform"
	"github.com/arcforge/loreweaver/storage"
)

// Tracker owns the MentionCursor for one agent identity.
type Tracker struct {
	log        *zap.SugaredLogger
	platform   platform.Platform
	repo       *storage.AgentRepository
	lineageID  string
	fetchLimit int
}

func NewTracker(lineageID string, pf platform.Platform, repo *storage.AgentRepository, fetchLimit int, log *zap.SugaredLogger) *Tracker {
	if fetchLimit <= 0 {
		fetchLimit = 10
	}
	return &Tracker{
		log:        log,
		platform:   pf,
		repo:       repo,
		lineageID:  lineageID,
		fetchLimit: fetchLimit,
	}
}

// Poll fetches recent mentions, drops everything at or before the cursor, and
// returns the remainder oldest-first. It does not advance the cursor; each
// returned mention must be claimed before a reply is generated for it.
func (t *Tracker) Poll(ctx context.Context) ([]core.Mention, error) {
	cur, err := t.repo.LoadCursor(t.lineageID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("loading mention cursor: %w", err)
	}

	fetched, err := t.platform.FetchMentions(ctx, cur.LastSeenMentionID, t.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching mentions: %w", err)
	}

	fresh := fetched[:0:0]
	for _, m := range fetched {
		if core.MentionAfterCursor(m, cur) {
			fresh = append(fresh, m)
		}
	}
	core.SortMentionsOldestFirst(fresh)
	return fresh, nil
}

// Claim durably advances the cursor past m. It must succeed before reply
// generation starts; core.ErrConflict means the mention was already claimed
// (by an earlier run or a replay) and must be skipped.
func (t *Tracker) Claim(ctx context.Context, m core.Mention) error {
	next := core.MentionCursor{LastSeenMentionID: m.ID, LastSeenAt: m.CreatedAt}
	if err := t.repo.AdvanceCursor(t.lineageID, next); err != nil {
		return fmt.Errorf("claiming mention %s: %w", m.ID, err)
	}
	t.log.Debugw("claimed mention", "mention_id", m.ID, "author", m.Author)
	return nil
}
