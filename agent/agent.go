// Package agent runs the scheduling loop: a posting tick and a mention-poll
// tick multiplexed onto a single goroutine, plus a small queue for operator
// commands. Running everything on one loop keeps EvolutionState mutations
// single-writer without further coordination.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/dispatcher"
	"github.com/arcforge/loreweaver/evolution"
	"github.com/arcforge/loreweaver/mentions"
	"github.com/arcforge/loreweaver/pipeline"
	"github.com/arcforge/loreweaver/storage"
)

// Agent wires the core components into a long-running loop.
type Agent struct {
	log        *zap.SugaredLogger
	machine    *evolution.Machine
	pipeline   *pipeline.Pipeline
	tracker    *mentions.Tracker
	dispatcher *dispatcher.Dispatcher
	repo       *storage.AgentRepository

	postInterval time.Duration
	pollInterval time.Duration
	opTimeout    time.Duration

	jobs chan func(context.Context)
}

func New(
	machine *evolution.Machine,
	pl *pipeline.Pipeline,
	tracker *mentions.Tracker,
	disp *dispatcher.Dispatcher,
	repo *storage.AgentRepository,
	postInterval, pollInterval time.Duration,
	log *zap.SugaredLogger,
) *Agent {
	return &Agent{
		log:          log,
		machine:      machine,
		pipeline:     pl,
		tracker:      tracker,
		dispatcher:   disp,
		repo:         repo,
		postInterval: postInterval,
		pollInterval: pollInterval,
		opTimeout:    5 * time.Minute,
		jobs:         make(chan func(context.Context), 8),
	}
}

// Run blocks until ctx is cancelled. Cancellation stops new work; the unit of
// work in flight completes or times out first.
func (a *Agent) Run(ctx context.Context) error {
	postTicker := time.NewTicker(a.postInterval)
	defer postTicker.Stop()
	pollTicker := time.NewTicker(a.pollInterval)
	defer pollTicker.Stop()

	a.log.Infow("agent loop started",
		"post_interval", a.postInterval, "poll_interval", a.pollInterval)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent loop stopped")
			return ctx.Err()
		case <-postTicker.C:
			a.runBounded(ctx, a.postOnce)
		case <-pollTicker.C:
			a.runBounded(ctx, a.pollOnce)
		case job := <-a.jobs:
			a.runBounded(ctx, job)
		}
	}
}

// runBounded executes one unit of work with a timeout so a hung network call
// cannot stall the loop indefinitely.
func (a *Agent) runBounded(ctx context.Context, f func(context.Context)) {
	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	f(opCtx)
}

func (a *Agent) postOnce(ctx context.Context) {
	rec, err := a.pipeline.GenerateNewPost(ctx)
	if err != nil {
		a.log.Errorw("post generation failed, skipping tick", "error", err)
		return
	}
	if _, err := a.dispatcher.Dispatch(ctx, rec); err != nil {
		a.log.Errorw("post dispatch failed", "post_id", rec.ID, "error", err)
	}
}

func (a *Agent) pollOnce(ctx context.Context) {
	ms, err := a.tracker.Poll(ctx)
	if err != nil {
		a.log.Errorw("mention poll failed, skipping tick", "error", err)
		return
	}
	if len(ms) > 0 {
		st := a.machine.Snapshot()
		if err := a.repo.BumpStats(st.LineageID, st.ActiveVersion, 0, 0, len(ms)); err != nil {
			a.log.Warnw("failed to record mention stats", "error", err)
		}
	}

	for _, m := range ms {
		if ctx.Err() != nil {
			return
		}
		// Claim before generating: at-most-one reply per mention, even
		// across a crash between generation and posting.
		if err := a.tracker.Claim(ctx, m); err != nil {
			if errors.Is(err, core.ErrConflict) {
				a.log.Debugw("mention already claimed", "mention_id", m.ID)
				continue
			}
			a.log.Errorw("mention claim failed, stopping poll batch", "mention_id", m.ID, "error", err)
			return
		}

		rec, err := a.pipeline.GenerateReply(ctx, m)
		if err != nil {
			a.log.Errorw("reply generation failed, mention skipped", "mention_id", m.ID, "error", err)
			continue
		}
		if _, err := a.dispatcher.Dispatch(ctx, rec); err != nil {
			a.log.Errorw("reply dispatch failed", "mention_id", m.ID, "error", err)
		}
	}
}

// ForcePost schedules an immediate new-post generation (operator command).
func (a *Agent) ForcePost() error {
	return a.enqueue(func(ctx context.Context) {
		a.log.Info("operator forced post")
		a.postOnce(ctx)
	})
}

// ForceBranch schedules an immediate branch (operator command).
func (a *Agent) ForceBranch() error {
	return a.enqueue(func(ctx context.Context) {
		a.log.Info("operator forced branch")
		if err := a.machine.ForceBranch(ctx); err != nil {
			a.log.Errorw("forced branch failed", "error", err)
		}
	})
}

// ForceReply schedules reply generation for operator-supplied context. The
// synthetic mention bypasses the cursor: it never came from the platform.
func (a *Agent) ForceReply(text, author string) error {
	m := core.Mention{
		ID:        "console-" + uuid.NewString(),
		Text:      text,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	}
	return a.enqueue(func(ctx context.Context) {
		a.log.Infow("operator forced reply", "author", author)
		rec, err := a.pipeline.GenerateReply(ctx, m)
		if err != nil {
			a.log.Errorw("forced reply generation failed", "error", err)
			return
		}
		if _, err := a.dispatcher.Dispatch(ctx, rec); err != nil {
			a.log.Errorw("forced reply dispatch failed", "error", err)
		}
	})
}

func (a *Agent) enqueue(job func(context.Context)) error {
	select {
	case a.jobs <- job:
		return nil
	default:
		return fmt.Errorf("agent job queue is full")
	}
}

// Machine exposes the evolution machine for read-only inspection surfaces.
func (a *Agent) Machine() *evolution.Machine { return a.machine }
