// Package platform defines the social-platform capability the agent posts
// through. The live implementation is supplied by the embedding environment;
// this package carries the interface, the error contract, and the local
// debug sink.
package platform

import (
	"context"

	"github.com/arcforge/loreweaver/core"
)

// Platform is the post/reply/fetch-mentions capability. All methods return
// *core.PlatformError on failure.
type Platform interface {
	// PostNew publishes a standalone post and returns the platform post id.
	PostNew(ctx context.Context, text string) (string, error)

	// PostReply publishes a reply to the given mention and returns the
	// platform post id.
	PostReply(ctx context.Context, text, mentionID string) (string, error)

	// FetchMentions returns recent mentions newer than sinceID (empty for
	// all), at most limit, in any order.
	FetchMentions(ctx context.Context, sinceID string, limit int) ([]core.Mention, error)
}
