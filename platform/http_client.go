package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arcforge/loreweaver/core"
)

// HTTPClient talks to a platform gateway exposing the post/reply/mentions
// capability over JSON. The gateway owns platform credentials and rate
// limiting; this client only maps the wire contract onto the Platform
// interface.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type postRequest struct {
	Text      string `json:"text"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

type postResponse struct {
	ID string `json:"id"`
}

type mentionsResponse struct {
	Mentions []core.Mention `json:"mentions"`
}

func (c *HTTPClient) PostNew(ctx context.Context, text string) (string, error) {
	return c.post(ctx, postRequest{Text: text})
}

func (c *HTTPClient) PostReply(ctx context.Context, text, mentionID string) (string, error) {
	return c.post(ctx, postRequest{Text: text, ReplyToID: mentionID})
}

func (c *HTTPClient) post(ctx context.Context, body postRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &core.PlatformError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/posts", bytes.NewReader(payload))
	if err != nil {
		return "", &core.PlatformError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &core.PlatformError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}

	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &core.PlatformError{Transient: true, Err: fmt.Errorf("decoding post response: %w", err)}
	}
	return out.ID, nil
}

func (c *HTTPClient) FetchMentions(ctx context.Context, sinceID string, limit int) ([]core.Mention, error) {
	q := url.Values{}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/mentions?"+q.Encode(), nil)
	if err != nil {
		return nil, &core.PlatformError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.PlatformError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out mentionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &core.PlatformError{Transient: true, Err: fmt.Errorf("decoding mentions response: %w", err)}
	}
	return out.Mentions, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &core.PlatformError{RateLimited: true, Err: fmt.Errorf("status %d", status)}
	case status >= 500:
		return &core.PlatformError{Transient: true, Err: fmt.Errorf("status %d", status)}
	default:
		return &core.PlatformError{Err: fmt.Errorf("status %d", status)}
	}
}
