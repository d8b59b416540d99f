package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arcforge/loreweaver/core"
)

// AgentRepository persists the agent's singleton records (evolution state,
// mention cursor), the append-only post log, and per-version stats.
type AgentRepository struct {
	db *Store
}

func NewAgentRepository(db *Store) *AgentRepository {
	return &AgentRepository{db: db}
}

func evolutionKey(lineageID string) string {
	return fmt.Sprintf("evolution:%s", lineageID)
}

func cursorKey(lineageID string) string {
	return fmt.Sprintf("mention_cursor:%s", lineageID)
}

func postKey(lineageID, recordID string, createdAt time.Time) string {
	return fmt.Sprintf("post:%s:%020d:%s", lineageID, createdAt.UnixNano(), recordID)
}

func statsKey(lineageID string, version int) string {
	return fmt.Sprintf("stats:%s:v%08d", lineageID, version)
}

// LoadEvolutionState returns the persisted state, core.ErrNotFound before
// bootstrap.
func (r *AgentRepository) LoadEvolutionState(lineageID string) (core.EvolutionState, error) {
	var st core.EvolutionState
	if err := r.db.GetObject(evolutionKey(lineageID), &st); err != nil {
		return core.EvolutionState{}, err
	}
	return st, nil
}

// SaveEvolutionState persists the state. The evolution machine is the only
// writer, so a plain put is sufficient.
func (r *AgentRepository) SaveEvolutionState(st core.EvolutionState) error {
	st.UpdatedAt = time.Now().UTC()
	return r.db.PutObject(evolutionKey(st.LineageID), st)
}

// LoadCursor returns the mention cursor, core.ErrNotFound before the first
// mention is claimed.
func (r *AgentRepository) LoadCursor(lineageID string) (core.MentionCursor, error) {
	var cur core.MentionCursor
	if err := r.db.GetObject(cursorKey(lineageID), &cur); err != nil {
		return core.MentionCursor{}, err
	}
	return cur, nil
}

// AdvanceCursor moves the cursor forward to next. The write is conditional on
// the cursor not having moved underneath us, and a cursor that would move
// backwards (or stand still) fails with core.ErrConflict — that is what makes
// mention processing at-most-once.
func (r *AgentRepository) AdvanceCursor(lineageID string, next core.MentionCursor) error {
	cur, err := r.LoadCursor(lineageID)
	if errors.Is(err, core.ErrNotFound) {
		return r.db.CompareAndSwapObject(cursorKey(lineageID), nil, next)
	}
	if err != nil {
		return err
	}

	if !core.CursorBefore(cur, next) {
		return fmt.Errorf("cursor %s already at or past %s: %w",
			cur.LastSeenMentionID, next.LastSeenMentionID, core.ErrConflict)
	}
	return r.db.CompareAndSwapObject(cursorKey(lineageID), cur, next)
}

// AppendPostRecord adds a new record to the post log.
func (r *AgentRepository) AppendPostRecord(rec core.PostRecord) error {
	return r.db.PutObject(postKey(rec.LineageID, rec.ID, rec.CreatedAt), rec)
}

// UpdatePostRecord rewrites an existing record in place (status, attempts,
// text). The key embeds CreatedAt, so the record keeps its log position.
func (r *AgentRepository) UpdatePostRecord(rec core.PostRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return r.db.PutObject(postKey(rec.LineageID, rec.ID, rec.CreatedAt), rec)
}

// ListPostRecords returns the post log oldest-first, capped at limit
// (0 means no cap).
func (r *AgentRepository) ListPostRecords(lineageID string, limit int) ([]core.PostRecord, error) {
	raw, err := r.db.GetByPrefix(fmt.Sprintf("post:%s:", lineageID))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]core.PostRecord, 0, len(keys))
	for _, k := range keys {
		var rec core.PostRecord
		if err := json.Unmarshal(raw[k], &rec); err != nil {
			continue // skip corrupt entries
		}
		records = append(records, rec)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// BumpStats adds deltas to the per-version activity counters.
func (r *AgentRepository) BumpStats(lineageID string, version, posts, replies, mentions int) error {
	key := statsKey(lineageID, version)

	var st core.VersionStats
	err := r.db.GetObject(key, &st)
	if errors.Is(err, core.ErrNotFound) {
		st = core.VersionStats{LineageID: lineageID, Version: version}
	} else if err != nil {
		return err
	}

	st.Posts += posts
	st.Replies += replies
	st.MentionsSeen += mentions
	st.UpdatedAt = time.Now().UTC()
	return r.db.PutObject(key, st)
}

// GetStats returns the counters for one version.
func (r *AgentRepository) GetStats(lineageID string, version int) (core.VersionStats, error) {
	var st core.VersionStats
	if err := r.db.GetObject(statsKey(lineageID, version), &st); err != nil {
		return core.VersionStats{}, err
	}
	return st, nil
}
