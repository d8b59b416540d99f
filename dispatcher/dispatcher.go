// Package dispatcher delivers generated content to its destination and
// records the outcome. In debug mode the destination is a local sink that
// behaves exactly like the platform for evolution-counting purposes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/evolution"
	"github.com/arcforge/loreweaver/platform"
	"github.com/arcforge/loreweaver/storage"
)

// Dispatcher routes post records to the configured destination.
type Dispatcher struct {
	log     *zap.SugaredLogger
	dest    platform.Platform
	repo    *storage.AgentRepository
	machine *evolution.Machine
	broker  *core.Broker

	maxAttempts     int
	initialInterval time.Duration
}

func New(
	dest platform.Platform,
	repo *storage.AgentRepository,
	machine *evolution.Machine,
	broker *core.Broker,
	maxAttempts int,
	log *zap.SugaredLogger,
) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		log:             log,
		dest:            dest,
		repo:            repo,
		machine:         machine,
		broker:          broker,
		maxAttempts:     maxAttempts,
		initialInterval: time.Second,
	}
}

// SetInitialInterval overrides the first backoff delay (tests use a tiny
// value).
func (d *Dispatcher) SetInitialInterval(iv time.Duration) { d.initialInterval = iv }

// Dispatch delivers rec with bounded retry. On success the record is marked
// Posted and the evolution counter advances; after the attempt budget the
// record is marked Failed and reported, never retried again, and the error is
// returned so the scheduling loop can log it (the loop itself continues).
func (d *Dispatcher) Dispatch(ctx context.Context, rec core.PostRecord) (core.PostRecord, error) {
	if rec.GeneratedText == "" {
		return rec, fmt.Errorf("refusing to dispatch empty post %s", rec.ID)
	}

	var postID string
	op := func() error {
		rec.Attempts++
		var err error
		switch rec.Kind {
		case core.KindReply:
			postID, err = d.dest.PostReply(ctx, rec.GeneratedText, rec.SourceMentionID)
		default:
			postID, err = d.dest.PostNew(ctx, rec.GeneratedText)
		}
		if err != nil {
			var pe *core.PlatformError
			if errors.As(err, &pe) && !pe.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.maxAttempts-1)), ctx))
	if err != nil {
		rec.Status = core.StatusFailed
		rec.FailureReason = err.Error()
		if uerr := d.repo.UpdatePostRecord(rec); uerr != nil {
			d.log.Errorw("failed to persist failed dispatch", "post_id", rec.ID, "error", uerr)
		}
		d.broker.Publish(core.SubjectPostFailed, rec)
		d.log.Errorw("dispatch failed after retries",
			"post_id", rec.ID, "kind", rec.Kind, "attempts", rec.Attempts, "error", err)
		return rec, fmt.Errorf("dispatching post %s: %w", rec.ID, err)
	}

	rec.Status = core.StatusPosted
	rec.PlatformPostID = postID
	if uerr := d.repo.UpdatePostRecord(rec); uerr != nil {
		d.log.Errorw("failed to persist posted record", "post_id", rec.ID, "error", uerr)
	}

	if rec.Kind == core.KindReply {
		d.broker.Publish(core.SubjectReplyPosted, rec)
		if err := d.repo.BumpStats(rec.LineageID, rec.CharacterVersion, 0, 1, 0); err != nil {
			d.log.Warnw("failed to record reply stats", "error", err)
		}
	} else {
		d.broker.Publish(core.SubjectPostPosted, rec)
		if err := d.repo.BumpStats(rec.LineageID, rec.CharacterVersion, 1, 0, 0); err != nil {
			d.log.Warnw("failed to record post stats", "error", err)
		}
	}
	d.log.Infow("dispatched", "post_id", rec.ID, "kind", rec.Kind, "platform_post_id", postID)

	// A successful emission feeds the evolution counter; this may trigger a
	// branch, which runs to completion before this call returns.
	if err := d.machine.RecordSuccessfulPost(ctx, rec.GeneratedText); err != nil {
		d.log.Errorw("failed to record successful post", "post_id", rec.ID, "error", err)
	}
	return rec, nil
}
