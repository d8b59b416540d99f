package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/ai"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/evolution"
	"github.com/arcforge/loreweaver/platform"
	"github.com/arcforge/loreweaver/storage"
)

type fakeDest struct {
	newCalls    int
	replyCalls  int
	lastReplyTo string
	err         func(call int) error
}

func (f *fakeDest) PostNew(ctx context.Context, text string) (string, error) {
	f.newCalls++
	if f.err != nil {
		if err := f.err(f.newCalls); err != nil {
			return "", err
		}
	}
	return "post-xyz", nil
}

func (f *fakeDest) PostReply(ctx context.Context, text, mentionID string) (string, error) {
	f.replyCalls++
	f.lastReplyTo = mentionID
	if f.err != nil {
		if err := f.err(f.replyCalls); err != nil {
			return "", err
		}
	}
	return "reply-xyz", nil
}

func (f *fakeDest) FetchMentions(ctx context.Context, sinceID string, limit int) ([]core.Mention, error) {
	return nil, nil
}

type idleGen struct{}

func (idleGen) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return "", errors.New("not expected in these tests")
}

func newTestDispatcher(t *testing.T, dest platform.Platform) (*Dispatcher, *storage.AgentRepository, *evolution.Machine) {
	t.Helper()
	store, err := storage.Open(storage.TestConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chars := storage.NewCharacterRepository(store)
	repo := storage.NewAgentRepository(store)
	st := core.EvolutionState{LineageID: "lin", ActiveVersion: 1, BranchThreshold: 1000}
	require.NoError(t, repo.SaveEvolutionState(st))

	policy := ai.RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond}
	machine := evolution.NewMachine(st, chars, repo, idleGen{}, ai.NewPromptBuilder(280), policy, 512, 5, nil, zap.NewNop().Sugar())

	d := New(dest, repo, machine, nil, 3, zap.NewNop().Sugar())
	d.SetInitialInterval(time.Millisecond)
	return d, repo, machine
}

func pendingRecord(t *testing.T, repo *storage.AgentRepository, kind core.PostKind) core.PostRecord {
	t.Helper()
	rec := core.PostRecord{
		ID:               uuid.NewString(),
		LineageID:        "lin",
		Kind:             kind,
		GeneratedText:    "the tide keeps its own ledger",
		CharacterVersion: 1,
		Status:           core.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if kind == core.KindReply {
		rec.SourceMentionID = "42"
	}
	require.NoError(t, repo.AppendPostRecord(rec))
	return rec
}

func TestDispatchSuccessCountsTowardEvolution(t *testing.T) {
	dest := &fakeDest{}
	d, repo, machine := newTestDispatcher(t, dest)

	rec := pendingRecord(t, repo, core.KindNewPost)
	out, err := d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, core.StatusPosted, out.Status)
	require.Equal(t, "post-xyz", out.PlatformPostID)
	require.Equal(t, 1, out.Attempts)

	require.Equal(t, 1, machine.Snapshot().PostsSinceBranch)

	stats, err := repo.GetStats("lin", 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Posts)

	records, err := repo.ListPostRecords("lin", 0)
	require.NoError(t, err)
	require.Equal(t, core.StatusPosted, records[0].Status)
}

func TestDispatchReplyTargetsMention(t *testing.T) {
	dest := &fakeDest{}
	d, repo, _ := newTestDispatcher(t, dest)

	rec := pendingRecord(t, repo, core.KindReply)
	out, err := d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "42", dest.lastReplyTo)
	require.Equal(t, "reply-xyz", out.PlatformPostID)

	stats, err := repo.GetStats("lin", 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Replies)
	require.Equal(t, 0, stats.Posts)
}

func TestDispatchRetriesTransientPlatformErrors(t *testing.T) {
	dest := &fakeDest{err: func(call int) error {
		if call < 3 {
			return &core.PlatformError{Transient: true, Err: errors.New("gateway timeout")}
		}
		return nil
	}}
	d, repo, _ := newTestDispatcher(t, dest)

	out, err := d.Dispatch(context.Background(), pendingRecord(t, repo, core.KindNewPost))
	require.NoError(t, err)
	require.Equal(t, core.StatusPosted, out.Status)
	require.Equal(t, 3, out.Attempts)
}

func TestDispatchExhaustionMarksFailedButNotFatal(t *testing.T) {
	dest := &fakeDest{err: func(int) error {
		return &core.PlatformError{RateLimited: true, Err: errors.New("rate limited")}
	}}
	d, repo, machine := newTestDispatcher(t, dest)

	out, err := d.Dispatch(context.Background(), pendingRecord(t, repo, core.KindNewPost))
	require.Error(t, err)
	require.Equal(t, core.StatusFailed, out.Status)
	require.Equal(t, 3, out.Attempts, "attempt budget is bounded")
	require.NotEmpty(t, out.FailureReason)

	// A failed emission never advances the evolution counter.
	require.Equal(t, 0, machine.Snapshot().PostsSinceBranch)

	records, lerr := repo.ListPostRecords("lin", 0)
	require.NoError(t, lerr)
	require.Equal(t, core.StatusFailed, records[0].Status)
}

func TestDispatchPermanentPlatformErrorStopsImmediately(t *testing.T) {
	dest := &fakeDest{err: func(int) error {
		return &core.PlatformError{Err: errors.New("post rejected")}
	}}
	d, repo, _ := newTestDispatcher(t, dest)

	out, err := d.Dispatch(context.Background(), pendingRecord(t, repo, core.KindNewPost))
	require.Error(t, err)
	require.Equal(t, 1, out.Attempts, "permanent rejection is not retried")
	require.Equal(t, core.StatusFailed, out.Status)
}

func TestDispatchRefusesEmptyText(t *testing.T) {
	d, repo, _ := newTestDispatcher(t, &fakeDest{})
	rec := pendingRecord(t, repo, core.KindNewPost)
	rec.GeneratedText = ""
	_, err := d.Dispatch(context.Background(), rec)
	require.Error(t, err)
}

func TestDebugSinkBehavesLikeThePlatform(t *testing.T) {
	var buf bytes.Buffer
	d, repo, machine := newTestDispatcher(t, platform.NewDebugSink(&buf))

	out, err := d.Dispatch(context.Background(), pendingRecord(t, repo, core.KindNewPost))
	require.NoError(t, err)
	require.Equal(t, core.StatusPosted, out.Status)
	require.Contains(t, out.PlatformPostID, "debug-")
	require.Contains(t, buf.String(), "the tide keeps its own ledger")
	require.Equal(t, 1, machine.Snapshot().PostsSinceBranch)
}
