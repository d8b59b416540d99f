// Package evolution owns the branching state machine. It is the single
// writer of EvolutionState: every mutation of the activity counter and the
// active-version pointer is serialized here, so a branch in progress blocks a
// concurrent successful-post notification instead of interleaving with it.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/ai"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/storage"
)

// State of the machine. There is no terminal state; the agent runs
// indefinitely.
type State string

const (
	// StateStable is normal operation.
	StateStable State = "stable"
	// StateBranching means a branch is due or in progress. The machine
	// stays here across failed attempts until a branch succeeds or the
	// failure budget runs out.
	StateBranching State = "branching"
)

// Machine drives personality evolution for one lineage.
type Machine struct {
	log     *zap.SugaredLogger
	broker  *core.Broker
	chars   *storage.CharacterRepository
	repo    *storage.AgentRepository
	gen     ai.Generator
	prompts *ai.PromptBuilder

	policy            ai.RetryPolicy
	maxTokens         int
	maxBranchFailures int

	// mu serializes all access to st and state.
	mu             sync.Mutex
	state          State
	st             core.EvolutionState
	branchFailures int
}

func NewMachine(
	st core.EvolutionState,
	chars *storage.CharacterRepository,
	repo *storage.AgentRepository,
	gen ai.Generator,
	prompts *ai.PromptBuilder,
	policy ai.RetryPolicy,
	maxTokens int,
	maxBranchFailures int,
	broker *core.Broker,
	log *zap.SugaredLogger,
) *Machine {
	m := &Machine{
		log:               log,
		broker:            broker,
		chars:             chars,
		repo:              repo,
		gen:               gen,
		prompts:           prompts,
		policy:            policy,
		maxTokens:         maxTokens,
		maxBranchFailures: maxBranchFailures,
		state:             StateStable,
		st:                st,
	}
	// Crash recovery: a counter persisted at or past the threshold means a
	// branch was pending when the process died.
	if !st.Frozen && st.PostsSinceBranch >= st.BranchThreshold {
		m.state = StateBranching
	}
	return m
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the evolution state.
func (m *Machine) Snapshot() core.EvolutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.st
	st.RecentPosts = append([]string(nil), m.st.RecentPosts...)
	return st
}

// ActiveProfile returns the character version content generation must use.
// It waits for any branch in progress, so a caller never observes a
// half-switched version.
func (m *Machine) ActiveProfile() (core.CharacterProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chars.GetActive(m.st.LineageID)
}

// RecentPosts returns the bounded recent-post memory fed into prompts.
func (m *Machine) RecentPosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.st.RecentPosts...)
}

// RecordSuccessfulPost advances the activity counter and, at the threshold,
// runs a branch. While a branch is pending the counter holds; it resets only
// when a branch succeeds. Branch failures are reported, never returned: a
// post that made it to the platform stays successful.
func (m *Machine) RecordSuccessfulPost(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Frozen {
		m.log.Debugw("lineage frozen, post not counted toward branching",
			"lineage", m.st.LineageID, "reason", m.st.FrozenReason)
		return nil
	}

	if m.state != StateBranching {
		m.st.PostsSinceBranch++
	}
	m.pushRecentLocked(text)
	if err := m.repo.SaveEvolutionState(m.st); err != nil {
		return fmt.Errorf("persisting evolution state: %w", err)
	}

	if m.st.PostsSinceBranch >= m.st.BranchThreshold {
		m.state = StateBranching
		if err := m.branchLocked(ctx); err != nil {
			m.log.Warnw("branch attempt failed, will retry on next eligible post",
				"lineage", m.st.LineageID, "consecutive_failures", m.branchFailures, "error", err)
		}
	}
	return nil
}

// ForceBranch runs a branch immediately, regardless of the counter.
func (m *Machine) ForceBranch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Frozen {
		return &core.StateError{LineageID: m.st.LineageID, Reason: m.st.FrozenReason}
	}
	m.state = StateBranching
	return m.branchLocked(ctx)
}

// branchLocked derives a new character version from the active one. Callers
// hold m.mu and have set state to StateBranching.
func (m *Machine) branchLocked(ctx context.Context) error {
	parent, err := m.chars.GetActive(m.st.LineageID)
	if err != nil {
		var stateErr *core.StateError
		if errors.As(err, &stateErr) {
			m.freezeLocked(stateErr.Reason)
			return err
		}
		return m.branchFailedLocked(fmt.Errorf("loading active character: %w", err))
	}

	systemPrompt := m.prompts.SystemPrompt(parent)
	userPrompt := m.prompts.EvolutionPrompt(parent)
	raw, _, err := ai.CompleteWithRetry(ctx, m.gen, systemPrompt, userPrompt, m.maxTokens, m.policy)
	if err != nil {
		return m.branchFailedLocked(fmt.Errorf("generating evolved character: %w", err))
	}

	next, err := ai.ParseEvolvedProfile(raw, parent)
	if err != nil {
		return m.branchFailedLocked(fmt.Errorf("parsing evolved character: %w", err))
	}

	// Number from the lineage maximum rather than the active version: a
	// previous crash between CreateVersion and SetActive leaves an orphan
	// version the sequence must continue past.
	max, err := m.chars.MaxVersion(m.st.LineageID)
	if err != nil {
		return m.branchFailedLocked(fmt.Errorf("reading lineage max version: %w", err))
	}
	next.Version = max + 1

	if _, err := m.chars.CreateVersion(next); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Expected concurrency signal: recompute once and retry.
			max, merr := m.chars.MaxVersion(m.st.LineageID)
			if merr != nil {
				return m.branchFailedLocked(merr)
			}
			next.Version = max + 1
			if _, err = m.chars.CreateVersion(next); err != nil {
				return m.branchFailedLocked(fmt.Errorf("persisting evolved character: %w", err))
			}
		} else {
			return m.branchFailedLocked(fmt.Errorf("persisting evolved character: %w", err))
		}
	}

	if err := m.chars.SetActive(m.st.LineageID, next.Version); err != nil {
		return m.branchFailedLocked(fmt.Errorf("activating version %d: %w", next.Version, err))
	}

	m.st.ActiveVersion = next.Version
	m.st.PostsSinceBranch = 0
	if err := m.repo.SaveEvolutionState(m.st); err != nil {
		return m.branchFailedLocked(fmt.Errorf("persisting evolution state: %w", err))
	}

	m.state = StateStable
	m.branchFailures = 0
	m.log.Infow("branched to new character version",
		"lineage", m.st.LineageID, "version", next.Version, "parent", parent.Version)
	m.broker.Publish(core.SubjectBranchDone, map[string]any{
		"lineage_id": m.st.LineageID,
		"version":    next.Version,
		"parent":     parent.Version,
	})
	return nil
}

// branchFailedLocked books a failed attempt. The machine stays in
// StateBranching so the branch is retried on the next eligible post; once the
// consecutive-failure budget is exhausted, evolution for the lineage halts
// and the agent keeps posting with the current version.
func (m *Machine) branchFailedLocked(err error) error {
	m.branchFailures++
	m.broker.Publish(core.SubjectBranchFailed, map[string]any{
		"lineage_id":           m.st.LineageID,
		"consecutive_failures": m.branchFailures,
		"error":                err.Error(),
	})

	if m.maxBranchFailures > 0 && m.branchFailures >= m.maxBranchFailures {
		m.log.Errorw("branch retry budget exhausted, halting evolution for lineage",
			"lineage", m.st.LineageID, "failures", m.branchFailures, "error", err)
		m.freezeLocked(fmt.Sprintf("branch retry budget exhausted after %d consecutive failures", m.branchFailures))
	}
	return err
}

// freezeLocked halts evolution for the lineage until manual inspection.
// Posting continues; only branching stops.
func (m *Machine) freezeLocked(reason string) {
	m.st.Frozen = true
	m.st.FrozenReason = reason
	m.state = StateStable
	if err := m.repo.SaveEvolutionState(m.st); err != nil {
		m.log.Errorw("failed to persist frozen state", "lineage", m.st.LineageID, "error", err)
	}
	m.log.Errorw("lineage frozen", "lineage", m.st.LineageID, "reason", reason)
}

func (m *Machine) pushRecentLocked(text string) {
	if text == "" {
		return
	}
	m.st.RecentPosts = append(m.st.RecentPosts, text)
	if len(m.st.RecentPosts) > core.RecentPostLimit {
		m.st.RecentPosts = m.st.RecentPosts[len(m.st.RecentPosts)-core.RecentPostLimit:]
	}
}
