package core

import (
	"sort"
	"strconv"
)

// Platform mention identifiers are assumed monotonically orderable. Numeric
// ids (the common case) compare numerically; otherwise ordering falls back to
// timestamp with the id as tie-break.

func numericIDs(a, b string) (uint64, uint64, bool) {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	return ai, bi, errA == nil && errB == nil
}

// MentionLess orders mentions oldest-first.
func MentionLess(a, b Mention) bool {
	if ai, bi, ok := numericIDs(a.ID, b.ID); ok {
		return ai < bi
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMentionsOldestFirst sorts in place.
func SortMentionsOldestFirst(ms []Mention) {
	sort.Slice(ms, func(i, j int) bool { return MentionLess(ms[i], ms[j]) })
}

// MentionAfterCursor reports whether m has not been claimed yet.
func MentionAfterCursor(m Mention, cur MentionCursor) bool {
	if cur.LastSeenMentionID == "" {
		return true
	}
	if ci, mi, ok := numericIDs(cur.LastSeenMentionID, m.ID); ok {
		return mi > ci
	}
	if !m.CreatedAt.Equal(cur.LastSeenAt) {
		return m.CreatedAt.After(cur.LastSeenAt)
	}
	return m.ID > cur.LastSeenMentionID
}

// CursorBefore reports whether next strictly advances cur.
func CursorBefore(cur, next MentionCursor) bool {
	return MentionAfterCursor(Mention{ID: next.LastSeenMentionID, CreatedAt: next.LastSeenAt}, cur)
}
