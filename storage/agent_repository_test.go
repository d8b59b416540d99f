package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arcforge/loreweaver/core"
)

func TestCursorAdvancesMonotonically(t *testing.T) {
	repo := NewAgentRepository(newTestStore(t))

	_, err := repo.LoadCursor("lin")
	require.ErrorIs(t, err, core.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, repo.AdvanceCursor("lin", core.MentionCursor{LastSeenMentionID: "100", LastSeenAt: now}))

	// Standing still or moving backwards conflicts.
	err = repo.AdvanceCursor("lin", core.MentionCursor{LastSeenMentionID: "100", LastSeenAt: now})
	require.ErrorIs(t, err, core.ErrConflict)
	err = repo.AdvanceCursor("lin", core.MentionCursor{LastSeenMentionID: "99", LastSeenAt: now.Add(-time.Minute)})
	require.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, repo.AdvanceCursor("lin", core.MentionCursor{LastSeenMentionID: "101", LastSeenAt: now.Add(time.Minute)}))

	cur, err := repo.LoadCursor("lin")
	require.NoError(t, err)
	require.Equal(t, "101", cur.LastSeenMentionID)
}

func TestPostLogAppendAndUpdate(t *testing.T) {
	repo := NewAgentRepository(newTestStore(t))

	first := core.PostRecord{
		ID:        uuid.NewString(),
		LineageID: "lin",
		Kind:      core.KindNewPost,
		Status:    core.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	second := core.PostRecord{
		ID:        uuid.NewString(),
		LineageID: "lin",
		Kind:      core.KindReply,
		Status:    core.StatusPending,
		CreatedAt: first.CreatedAt.Add(time.Second),
	}
	require.NoError(t, repo.AppendPostRecord(first))
	require.NoError(t, repo.AppendPostRecord(second))

	first.Status = core.StatusPosted
	first.GeneratedText = "hello"
	require.NoError(t, repo.UpdatePostRecord(first))

	records, err := repo.ListPostRecords("lin", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, first.ID, records[0].ID, "log is oldest-first")
	require.Equal(t, core.StatusPosted, records[0].Status)
	require.Equal(t, core.StatusPending, records[1].Status)

	capped, err := repo.ListPostRecords("lin", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, second.ID, capped[0].ID, "cap keeps the newest records")
}

func TestEvolutionStateRoundTrip(t *testing.T) {
	repo := NewAgentRepository(newTestStore(t))

	_, err := repo.LoadEvolutionState("lin")
	require.ErrorIs(t, err, core.ErrNotFound)

	st := core.EvolutionState{
		LineageID:        "lin",
		ActiveVersion:    3,
		PostsSinceBranch: 2,
		BranchThreshold:  5,
		RecentPosts:      []string{"a", "b"},
	}
	require.NoError(t, repo.SaveEvolutionState(st))

	got, err := repo.LoadEvolutionState("lin")
	require.NoError(t, err)
	require.Equal(t, 3, got.ActiveVersion)
	require.Equal(t, 2, got.PostsSinceBranch)
	require.Equal(t, []string{"a", "b"}, got.RecentPosts)
}

func TestStatsAccumulate(t *testing.T) {
	repo := NewAgentRepository(newTestStore(t))

	require.NoError(t, repo.BumpStats("lin", 1, 1, 0, 0))
	require.NoError(t, repo.BumpStats("lin", 1, 0, 1, 2))

	st, err := repo.GetStats("lin", 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Posts)
	require.Equal(t, 1, st.Replies)
	require.Equal(t, 2, st.MentionsSeen)

	_, err = repo.GetStats("lin", 2)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCompareAndSwapObject(t *testing.T) {
	s := newTestStore(t)

	// Create requires absence.
	require.NoError(t, s.CompareAndSwapObject("k", nil, 1))
	require.ErrorIs(t, s.CompareAndSwapObject("k", nil, 2), core.ErrConflict)

	// Swap requires the expected current value.
	require.ErrorIs(t, s.CompareAndSwapObject("k", 5, 2), core.ErrConflict)
	require.NoError(t, s.CompareAndSwapObject("k", 1, 2))

	var v int
	require.NoError(t, s.GetObject("k", &v))
	require.Equal(t, 2, v)
}
