package evolution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/ai"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/storage"
)

const evolvedJSON = `{
  "bio": "a sharper chronicler",
  "traits": ["curious", "sharper"],
  "adjectives": ["wry"],
  "lore": ["found a new map"],
  "topics": ["tides"],
  "style": {"tone": "dry", "verbosity": "terse", "formality": "informal"}
}`

type fakeGen struct {
	calls int
	fn    func(call int) (string, error)
}

func (f *fakeGen) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	f.calls++
	return f.fn(f.calls)
}

func testPolicy() ai.RetryPolicy {
	return ai.RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond}
}

func newTestMachine(t *testing.T, threshold, maxBranchFailures int, gen ai.Generator) (*Machine, *storage.CharacterRepository) {
	t.Helper()
	store, err := storage.Open(storage.TestConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chars := storage.NewCharacterRepository(store)
	repo := storage.NewAgentRepository(store)

	parent := core.CharacterProfile{
		LineageID: "lin",
		Version:   1,
		Alias:     "Loreweaver",
		Traits:    []string{"curious"},
		Style:     core.StyleConfig{Tone: "warm"},
		CreatedAt: time.Now().UTC(),
	}
	_, err = chars.CreateVersion(parent)
	require.NoError(t, err)
	require.NoError(t, chars.SetActive("lin", 1))

	st := core.EvolutionState{LineageID: "lin", ActiveVersion: 1, BranchThreshold: threshold}
	require.NoError(t, repo.SaveEvolutionState(st))

	prompts := ai.NewPromptBuilder(280)
	m := NewMachine(st, chars, repo, gen, prompts, testPolicy(), 512, maxBranchFailures, nil, zap.NewNop().Sugar())
	return m, chars
}

func TestThresholdTriggersExactlyOneBranch(t *testing.T) {
	gen := &fakeGen{fn: func(int) (string, error) { return evolvedJSON, nil }}
	m, chars := newTestMachine(t, 3, 5, gen)

	ctx := context.Background()
	require.NoError(t, m.RecordSuccessfulPost(ctx, "one"))
	require.NoError(t, m.RecordSuccessfulPost(ctx, "two"))
	require.Equal(t, StateStable, m.State())
	require.Equal(t, 2, m.Snapshot().PostsSinceBranch)

	require.NoError(t, m.RecordSuccessfulPost(ctx, "three"))

	require.Equal(t, 1, gen.calls, "exactly one branch generation")
	require.Equal(t, StateStable, m.State())

	st := m.Snapshot()
	require.Equal(t, 2, st.ActiveVersion, "active version is prior active + 1")
	require.Equal(t, 0, st.PostsSinceBranch, "counter resets after a successful branch")

	active, err := chars.GetActive("lin")
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)
	require.NotNil(t, active.ParentVersion)
	require.Equal(t, 1, *active.ParentVersion)
	require.Equal(t, []string{"curious", "sharper"}, active.Traits)
}

func TestFailedBranchRetriesOnNextPost(t *testing.T) {
	gen := &fakeGen{fn: func(call int) (string, error) {
		if call == 1 {
			return "", &core.ProviderError{Transient: false, Err: errors.New("boom")}
		}
		return evolvedJSON, nil
	}}
	m, _ := newTestMachine(t, 2, 5, gen)

	ctx := context.Background()
	require.NoError(t, m.RecordSuccessfulPost(ctx, "one"))
	require.NoError(t, m.RecordSuccessfulPost(ctx, "two"))

	// First attempt failed: still branching, counter not reset.
	require.Equal(t, StateBranching, m.State())
	require.Equal(t, 2, m.Snapshot().PostsSinceBranch)
	require.Equal(t, 1, m.Snapshot().ActiveVersion)

	// Next successful post retries the branch; the counter never climbs
	// past the threshold while a branch is pending.
	require.NoError(t, m.RecordSuccessfulPost(ctx, "three"))
	require.Equal(t, StateStable, m.State())
	require.Equal(t, 0, m.Snapshot().PostsSinceBranch)
	require.Equal(t, 2, m.Snapshot().ActiveVersion)
}

func TestBranchBudgetExhaustionHaltsEvolution(t *testing.T) {
	gen := &fakeGen{fn: func(int) (string, error) {
		return "", &core.ProviderError{Transient: false, Err: errors.New("boom")}
	}}
	m, _ := newTestMachine(t, 1, 2, gen)

	ctx := context.Background()
	require.NoError(t, m.RecordSuccessfulPost(ctx, "one"))
	require.False(t, m.Snapshot().Frozen)

	require.NoError(t, m.RecordSuccessfulPost(ctx, "two"))
	st := m.Snapshot()
	require.True(t, st.Frozen, "budget exhausted halts evolution")
	require.Equal(t, 1, st.ActiveVersion, "agent keeps posting with the current version")

	// Frozen lineage: posts are still accepted, nothing branches.
	calls := gen.calls
	require.NoError(t, m.RecordSuccessfulPost(ctx, "three"))
	require.Equal(t, calls, gen.calls)
}

func TestForceBranch(t *testing.T) {
	gen := &fakeGen{fn: func(int) (string, error) { return evolvedJSON, nil }}
	m, _ := newTestMachine(t, 100, 5, gen)

	require.NoError(t, m.ForceBranch(context.Background()))
	require.Equal(t, 2, m.Snapshot().ActiveVersion)
	require.Equal(t, StateStable, m.State())
}

func TestPendingBranchRecoveredOnStartup(t *testing.T) {
	gen := &fakeGen{fn: func(int) (string, error) { return evolvedJSON, nil }}
	m, _ := newTestMachine(t, 3, 5, gen)

	st := m.Snapshot()
	st.PostsSinceBranch = 3
	recovered := NewMachine(st, nil, nil, gen, nil, testPolicy(), 512, 5, nil, zap.NewNop().Sugar())
	require.Equal(t, StateBranching, recovered.State())
}

func TestRecentPostsBounded(t *testing.T) {
	gen := &fakeGen{fn: func(int) (string, error) { return evolvedJSON, nil }}
	m, _ := newTestMachine(t, 100, 5, gen)

	ctx := context.Background()
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, m.RecordSuccessfulPost(ctx, s))
	}
	recent := m.RecentPosts()
	require.Len(t, recent, core.RecentPostLimit)
	require.Equal(t, []string{"c", "d", "e", "f", "g"}, recent)
}
