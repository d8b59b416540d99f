package platform

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/arcforge/loreweaver/core"
)

// DebugSink satisfies Platform by writing would-be posts to a local writer.
// It never talks to a real platform, returns synthetic post ids, and yields
// no mentions, so evolution counting behaves identically to production.
type DebugSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDebugSink(w io.Writer) *DebugSink {
	if w == nil {
		w = os.Stdout
	}
	return &DebugSink{w: w}
}

func (s *DebugSink) PostNew(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "[DEBUG SINK] post:\n%s\n\n", text)
	return "debug-" + uuid.NewString(), nil
}

func (s *DebugSink) PostReply(ctx context.Context, text, mentionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "[DEBUG SINK] reply to %s:\n%s\n\n", mentionID, text)
	return "debug-" + uuid.NewString(), nil
}

func (s *DebugSink) FetchMentions(ctx context.Context, sinceID string, limit int) ([]core.Mention, error) {
	return nil, nil
}
