package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/harborlight/mailsync/internal/provider"
	"github.com/harborlight/mailsync/internal/telemetry"
)

// IncrementalSync catches up from the persisted history cursor, feeding each
// newly-added message through the same per-message pipeline as a full sync.
// With no cursor it delegates to a full sync. Deletions reported by the
// provider's history are ignored. The cursor only advances after a fully
// successful pass.
func (e *Engine) IncrementalSync(ctx context.Context) error {
	cursor, err := e.store.GetConfig(ctx, kvCursorKey)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor == "" {
		e.log.Info("no history cursor; falling back to full sync")
		_, err := e.Start(ctx, Options{})
		return err
	}

	e.mu.Lock()
	if e.progress.Status == StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("sync already running")
	}
	now := time.Now()
	e.progress = Progress{
		Status:           StatusRunning,
		StartTime:        &now,
		ConnectionStatus: e.progress.ConnectionStatus,
	}
	e.pauseRequested.Store(false)
	e.stopRequested.Store(false)
	e.mu.Unlock()

	if err := e.connect(ctx); err != nil {
		e.failRun("authenticate", err)
		return err
	}

	page, err := e.client.History(ctx, cursor)
	if err != nil {
		if provider.CategoryOf(err) == provider.CategoryNotFound {
			// Cursor expired on the provider side; the only way forward
			// is a full re-scan.
			e.log.WithField("cursor", cursor).Warn("history cursor expired; falling back to full sync")
			e.finishRun(StatusIdle)
			_, err := e.Start(ctx, Options{})
			return err
		}
		e.failRun("history", err)
		return err
	}

	e.mu.Lock()
	e.progress.TotalMessages = len(page.AddedIDs)
	e.progress.TotalBatches = 1
	if len(page.AddedIDs) > 0 {
		e.progress.CurrentBatch = 1
	}
	e.mu.Unlock()

	for _, id := range page.AddedIDs {
		if e.checkControl() {
			return nil
		}
		raw, err := e.client.GetMessage(ctx, id)
		if err != nil {
			e.tel.RecordError(telemetry.SyncError{
				MessageID: id,
				Operation: "incremental fetch",
				Message:   "failed to fetch message from history",
			}, err)
			continue
		}
		e.processMessage(ctx, raw)
	}

	if page.NewCursor != "" && page.NewCursor != cursor {
		if err := e.store.SetConfig(ctx, kvCursorKey, page.NewCursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}

	e.finishRun(StatusCompleted)
	e.log.WithFields(map[string]any{
		"added":  len(page.AddedIDs),
		"cursor": page.NewCursor,
	}).Info("incremental sync completed")
	return nil
}

// DispatchOutbox continuously publishes staged events to NATS. Runs until
// ctx is canceled; a nil publisher makes this a no-op.
func (e *Engine) DispatchOutbox(ctx context.Context) {
	if e.pub == nil {
		return
	}
	if err := e.pub.EnsureStream(ctx); err != nil {
		e.log.WithError(err).Error("failed to ensure event stream")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := e.store.DequeueOutbox(ctx, 100)
		if err != nil {
			e.log.WithError(err).Warn("failed to dequeue outbox")
			time.Sleep(time.Second)
			continue
		}

		if len(messages) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, msg := range messages {
			if err := e.pub.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				e.log.WithError(err).WithField("id", msg.ID).Warn("failed to publish event")
				_ = e.store.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := e.store.MarkPublished(ctx, msg.ID); err != nil {
				e.log.WithError(err).WithField("id", msg.ID).Warn("failed to mark event published")
			}
		}
	}
}
