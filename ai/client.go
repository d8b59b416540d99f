package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/core"
)

// Generator submits one (system prompt, user prompt) pair to a language-model
// provider. Implementations make a single attempt; retry policy lives in
// CompleteWithRetry so callers can count attempts.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// LLMConfig holds configuration for LLM interactions.
type LLMConfig struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// DefaultLLMConfig returns standard LLM configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:       openai.GPT4o,
		Temperature: 1.0,
		Timeout:     60 * time.Second,
	}
}

// OpenAIClient implements Generator on top of the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	cfg    LLMConfig
	log    *zap.SugaredLogger
}

func NewOpenAIClient(apiKey string, cfg LLMConfig, log *zap.SugaredLogger) *OpenAIClient {
	if cfg.Model == "" {
		cfg = DefaultLLMConfig()
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		cfg:    cfg,
		log:    log,
	}
}

// Complete makes a single bounded chat completion call.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &core.ProviderError{Transient: true, Err: errors.New("empty completion response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyProviderError splits provider failures into transient (retried)
// and permanent (surfaced immediately).
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		transient := apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
		return &core.ProviderError{Transient: transient, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &core.ProviderError{Transient: true, Err: err}
	}
	return &core.ProviderError{Transient: false, Err: err}
}

// RetryPolicy bounds generation retries.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
}

// DefaultRetryPolicy allows two retries (three attempts total).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialInterval: 500 * time.Millisecond}
}

// CompleteWithRetry drives g with exponential backoff until success, a
// permanent provider error, context cancellation, or retry exhaustion. It
// returns the number of attempts made; on exhaustion the error wraps
// core.ErrGenerationUnavailable.
func CompleteWithRetry(ctx context.Context, g Generator, systemPrompt, userPrompt string, maxTokens int, policy RetryPolicy) (string, int, error) {
	var (
		text     string
		attempts int
	)

	op := func() error {
		attempts++
		out, err := g.Complete(ctx, systemPrompt, userPrompt, maxTokens)
		if err != nil {
			var pe *core.ProviderError
			if errors.As(err, &pe) && !pe.Transient {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(policy.MaxRetries)), ctx))
	if err != nil {
		return "", attempts, fmt.Errorf("%w after %d attempts: %v", core.ErrGenerationUnavailable, attempts, err)
	}
	return text, attempts, nil
}
