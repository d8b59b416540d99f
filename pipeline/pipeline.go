// Package pipeline assembles prompts from the active personality, invokes the
// generation capability, and validates output against the platform's length
// ceiling.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/ai"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/evolution"
	"github.com/arcforge/loreweaver/storage"
)

// ResearchFn looks up background findings for a reply topic. Nil disables
// research.
type ResearchFn func(query string) (string, error)

// Pipeline generates post and reply content with the active character
// version.
type Pipeline struct {
	log     *zap.SugaredLogger
	gen     ai.Generator
	prompts *ai.PromptBuilder
	machine *evolution.Machine
	repo    *storage.AgentRepository

	lineageID string
	policy    ai.RetryPolicy
	maxTokens int
	maxChars  int
	research  ResearchFn
}

func New(
	lineageID string,
	gen ai.Generator,
	prompts *ai.PromptBuilder,
	machine *evolution.Machine,
	repo *storage.AgentRepository,
	policy ai.RetryPolicy,
	maxTokens int,
	maxChars int,
	research ResearchFn,
	log *zap.SugaredLogger,
) *Pipeline {
	return &Pipeline{
		log:       log,
		gen:       gen,
		prompts:   prompts,
		machine:   machine,
		repo:      repo,
		lineageID: lineageID,
		policy:    policy,
		maxTokens: maxTokens,
		maxChars:  maxChars,
		research:  research,
	}
}

// GenerateNewPost produces a standalone post.
func (p *Pipeline) GenerateNewPost(ctx context.Context) (core.PostRecord, error) {
	return p.generate(ctx, core.KindNewPost, nil)
}

// GenerateReply produces an in-character reply to a mention. The mention must
// already be claimed by the tracker; the pipeline does not touch the cursor.
func (p *Pipeline) GenerateReply(ctx context.Context, m core.Mention) (core.PostRecord, error) {
	return p.generate(ctx, core.KindReply, &m)
}

func (p *Pipeline) generate(ctx context.Context, kind core.PostKind, mention *core.Mention) (core.PostRecord, error) {
	profile, err := p.machine.ActiveProfile()
	if err != nil {
		return core.PostRecord{}, fmt.Errorf("loading active character: %w", err)
	}
	recent := p.machine.RecentPosts()

	now := time.Now().UTC()
	rec := core.PostRecord{
		ID:               uuid.NewString(),
		LineageID:        p.lineageID,
		Kind:             kind,
		CharacterVersion: profile.Version,
		Status:           core.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if mention != nil {
		rec.SourceMentionID = mention.ID
	}

	// The record is written Pending before the provider call so a crash
	// mid-generation stays visible on restart.
	if err := p.repo.AppendPostRecord(rec); err != nil {
		return core.PostRecord{}, fmt.Errorf("recording pending post: %w", err)
	}

	systemPrompt := p.prompts.SystemPrompt(profile)
	var userPrompt string
	if mention != nil {
		userPrompt = p.prompts.ReplyPrompt(profile, mention.Text, mention.Author, recent, p.researchFor(mention.Text))
	} else {
		userPrompt = p.prompts.NewPostPrompt(profile, recent)
	}

	text, attempts, err := ai.CompleteWithRetry(ctx, p.gen, systemPrompt, userPrompt, p.maxTokens, p.policy)
	rec.Attempts += attempts
	if err != nil {
		rec.Status = core.StatusFailed
		rec.FailureReason = err.Error()
		if uerr := p.repo.UpdatePostRecord(rec); uerr != nil {
			p.log.Errorw("failed to persist failed post record", "post_id", rec.ID, "error", uerr)
		}
		return rec, err
	}

	text = strings.TrimSpace(text)
	if p.overLimit(text) {
		// One explicit shorten pass, then a deterministic clean cut. The
		// platform limit is never exceeded.
		shortened, extraAttempts, serr := ai.CompleteWithRetry(
			ctx, p.gen, systemPrompt, p.prompts.ShortenPrompt(userPrompt, text), p.maxTokens, p.policy)
		rec.Attempts += extraAttempts
		if serr == nil && strings.TrimSpace(shortened) != "" {
			text = strings.TrimSpace(shortened)
		} else if serr != nil {
			p.log.Warnw("shorten regeneration failed, truncating first output",
				"post_id", rec.ID, "error", serr)
		}
		if p.overLimit(text) {
			text = TruncateAtWhitespace(text, p.maxChars)
		}
	}

	rec.GeneratedText = text
	if err := p.repo.UpdatePostRecord(rec); err != nil {
		return rec, fmt.Errorf("persisting generated text: %w", err)
	}
	return rec, nil
}

func (p *Pipeline) researchFor(topic string) string {
	if p.research == nil {
		return ""
	}
	findings, err := p.research(topic)
	if err != nil {
		p.log.Debugw("reply research unavailable", "error", err)
		return ""
	}
	return findings
}

func (p *Pipeline) overLimit(text string) bool {
	return utf8.RuneCountInString(text) > p.maxChars
}

// TruncateAtWhitespace cuts text to at most limit runes, preferring the last
// whitespace boundary within the limit. No ellipsis is appended.
func TruncateAtWhitespace(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := -1
	for i := 0; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			cut = i
		}
	}
	if unicode.IsSpace(runes[limit]) {
		// The limit itself falls on a word boundary; keep the whole word.
		cut = limit
	}
	if cut <= 0 {
		cut = limit
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}
