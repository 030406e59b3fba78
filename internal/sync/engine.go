// Package sync orchestrates resumable batch mailbox synchronization: paging
// the provider, normalizing messages, resolving contacts, persisting
// idempotently and exposing live progress with cooperative pause/stop.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborlight/mailsync/internal/contacts"
	"github.com/harborlight/mailsync/internal/events"
	"github.com/harborlight/mailsync/internal/normalize"
	"github.com/harborlight/mailsync/internal/provider"
	"github.com/harborlight/mailsync/internal/store"
	"github.com/harborlight/mailsync/internal/telemetry"
)

const (
	kvProgressKey = "sync.progress"
	kvCursorKey   = "sync.last_history_id"

	eventTypeIngested = "communication.ingested"
)

// CredentialSource is the external collaborator owning OAuth credentials.
type CredentialSource interface {
	LoadStoredCredentials(ctx context.Context) (bool, error)
}

// Config holds engine wiring that does not change between runs.
type Config struct {
	// Source names the provider in stored rows, e.g. "gmail".
	Source string

	// InterBatchDelay is the fixed sleep after each batch, applied
	// regardless of batch outcome to respect provider rate limits.
	InterBatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = string(provider.NameGmail)
	}
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = 250 * time.Millisecond
	}
	return c
}

// Engine is the sync orchestrator. At most one run is active at a time;
// Start fails fast while a run is in flight.
type Engine struct {
	client   provider.Client
	creds    CredentialSource
	store    *store.Store
	resolver *contacts.Resolver
	tel      *telemetry.Log
	pub      *events.Publisher
	log      *logrus.Logger
	cfg      Config

	mu       sync.Mutex
	progress Progress
	account  string

	// run state consumed by the batch loop
	runQuery  string
	runOpts   Options
	runCursor string // history position recorded at completion

	pauseRequested atomic.Bool
	stopRequested  atomic.Bool
}

// NewEngine wires the orchestrator. pub may be nil when event publishing is
// not configured.
func NewEngine(client provider.Client, creds CredentialSource, st *store.Store, resolver *contacts.Resolver, tel *telemetry.Log, pub *events.Publisher, log *logrus.Logger, cfg Config) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		client:   client,
		creds:    creds,
		store:    st,
		resolver: resolver,
		tel:      tel,
		pub:      pub,
		log:      log,
		cfg:      cfg.withDefaults(),
		progress: Progress{Status: StatusIdle, ConnectionStatus: ConnectionDisconnected},
	}
}

// GetProgress returns an immutable snapshot of the current progress.
func (e *Engine) GetProgress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// snapshotLocked deep-copies progress and attaches the telemetry views.
func (e *Engine) snapshotLocked() Progress {
	snap := e.progress
	if e.progress.StartTime != nil {
		t := *e.progress.StartTime
		snap.StartTime = &t
	}
	if e.progress.EndTime != nil {
		t := *e.progress.EndTime
		snap.EndTime = &t
	}
	snap.DetailedErrors = e.tel.Errors()
	snap.APICallLog = e.tel.APICalls()
	return snap
}

// ClearErrors drops the retained error log. Separate from pause/stop on
// purpose: inspecting a run must not require disturbing it.
func (e *Engine) ClearErrors() Progress {
	e.tel.ClearErrors()
	return e.GetProgress()
}

// Start validates the run and kicks the batch loop off in the background.
// Progress is available through polling only.
func (e *Engine) Start(ctx context.Context, opts Options) (Progress, error) {
	opts = opts.withDefaults()

	e.mu.Lock()
	if e.progress.Status == StatusRunning {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, fmt.Errorf("sync already running: %d/%d messages processed", snap.ProcessedMessages, snap.TotalMessages)
	}

	now := time.Now()
	e.progress = Progress{
		Status:           StatusRunning,
		StartTime:        &now,
		ConnectionStatus: ConnectionDisconnected,
	}
	e.runOpts = opts
	e.runCursor = ""
	e.pauseRequested.Store(false)
	e.stopRequested.Store(false)
	e.mu.Unlock()

	if err := e.connect(ctx); err != nil {
		return e.failRun("authenticate", err)
	}

	query := buildQuery(opts)
	e.mu.Lock()
	e.runQuery = query
	e.mu.Unlock()

	// Cheap 1-result call for the estimated total.
	page, err := e.client.ListMessages(ctx, query, 1, "")
	if err != nil {
		return e.failRun("estimate total", err)
	}

	total := int(page.ResultSizeEstimate)
	if opts.MaxMessages > 0 && total > opts.MaxMessages {
		total = opts.MaxMessages
	}

	e.mu.Lock()
	e.progress.TotalMessages = total
	if total > 0 {
		e.progress.TotalBatches = int(math.Ceil(float64(total) / float64(opts.BatchSize)))
	}
	e.mu.Unlock()

	if total == 0 {
		e.tel.RecordError(telemetry.SyncError{
			Operation: "estimate total",
			Message:   "no messages match the sync query; nothing to do",
		}, nil)
		e.finishRun(StatusCompleted)
		return e.GetProgress(), nil
	}

	e.log.WithFields(logrus.Fields{
		"account": e.account,
		"total":   total,
		"batches": e.progress.TotalBatches,
		"query":   query,
	}).Info("sync started")

	go e.runLoop()

	return e.GetProgress(), nil
}

// Pause requests a cooperative pause; it takes effect at the next
// per-message or per-batch check point.
func (e *Engine) Pause() (Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress.Status != StatusRunning {
		return e.snapshotLocked(), fmt.Errorf("no sync running")
	}
	e.pauseRequested.Store(true)
	return e.snapshotLocked(), nil
}

// Resume restarts the batch loop after a pause. Pagination restarts from
// the first page; already-stored messages are skipped by the store's
// idempotent insert, so only new work is done.
func (e *Engine) Resume() (Progress, error) {
	e.mu.Lock()
	if e.progress.Status != StatusPaused {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, fmt.Errorf("sync is not paused")
	}
	e.progress.Status = StatusRunning
	e.pauseRequested.Store(false)
	e.stopRequested.Store(false)
	e.mu.Unlock()

	go e.runLoop()

	return e.GetProgress(), nil
}

// Stop ends the run at the next check point. A paused run stops
// immediately.
func (e *Engine) Stop() (Progress, error) {
	e.mu.Lock()
	status := e.progress.Status
	e.mu.Unlock()

	switch status {
	case StatusRunning:
		e.stopRequested.Store(true)
	case StatusPaused:
		e.finishRun(StatusIdle)
	default:
		return e.GetProgress(), fmt.Errorf("no sync to stop")
	}
	return e.GetProgress(), nil
}

// connect verifies stored credentials and provider reachability.
func (e *Engine) connect(ctx context.Context) error {
	ok, err := e.creds.LoadStoredCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return fmt.Errorf("no stored credentials for %s", e.cfg.Source)
	}

	profile, err := e.client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	e.mu.Lock()
	e.account = profile.EmailAddress
	e.runCursor = profile.HistoryID
	e.progress.ConnectionStatus = ConnectionConnected
	e.mu.Unlock()
	return nil
}

// runLoop drives list → fetch → normalize → resolve → store until
// exhaustion, pause or stop. It runs in the background; no error escapes
// without transitioning the run to a terminal state.
func (e *Engine) runLoop() {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			e.tel.RecordError(telemetry.SyncError{
				Operation:  "batch loop",
				Message:    fmt.Sprintf("panic: %v", r),
				IsCritical: true,
			}, nil)
			e.setError(fmt.Sprintf("panic: %v", r))
		}
	}()

	e.mu.Lock()
	opts := e.runOpts
	query := e.runQuery
	e.mu.Unlock()

	pageToken := ""
	for {
		if e.checkControl() {
			return
		}

		page, err := e.client.ListMessages(ctx, query, int64(opts.BatchSize), pageToken)
		if err != nil {
			if provider.CategoryOf(err) == provider.CategoryRateLimited {
				// Quota exhaustion is survivable: log it, wait the
				// standard delay, retry the same page.
				e.tel.RecordError(telemetry.SyncError{
					Operation: "list messages",
					Message:   "provider rate limit hit while listing",
				}, err)
				e.setConnection(ConnectionReconnecting)
				time.Sleep(e.cfg.InterBatchDelay)
				continue
			}
			e.tel.RecordError(telemetry.SyncError{
				Operation:  "list messages",
				Message:    "failed to list message page",
				IsCritical: true,
			}, err)
			e.setError(err.Error())
			return
		}
		e.setConnection(ConnectionConnected)

		if len(page.IDs) == 0 {
			e.completeRun(ctx)
			return
		}

		ids := page.IDs
		e.mu.Lock()
		remaining := e.progress.TotalMessages - e.progress.ProcessedMessages
		e.progress.CurrentBatch++
		e.mu.Unlock()
		if opts.MaxMessages > 0 {
			if remaining <= 0 {
				e.completeRun(ctx)
				return
			}
			if len(ids) > remaining {
				ids = ids[:remaining]
			}
		}

		raws := e.fetchBodies(ctx, ids)
		for _, raw := range raws {
			if e.checkControl() {
				return
			}
			e.processMessage(ctx, raw)
		}

		e.persistProgress(ctx)

		// Fixed inter-batch delay regardless of batch outcome.
		time.Sleep(e.cfg.InterBatchDelay)

		pageToken = page.NextPageToken
		if pageToken == "" {
			e.completeRun(ctx)
			return
		}
		e.mu.Lock()
		done := opts.MaxMessages > 0 && e.progress.ProcessedMessages >= e.progress.TotalMessages
		e.mu.Unlock()
		if done {
			e.completeRun(ctx)
			return
		}
	}
}

// fetchBodies retrieves full messages for ids, degrading from the batched
// call to per-message fetches on failure. Individual failures are logged
// non-critical and the message is omitted; it will only be retried by a
// future incremental pass.
func (e *Engine) fetchBodies(ctx context.Context, ids []string) []*provider.RawMessage {
	raws, err := e.client.GetMessagesBatch(ctx, ids)
	if err == nil {
		return raws
	}

	e.tel.RecordError(telemetry.SyncError{
		Operation: "batch fetch",
		Message:   fmt.Sprintf("batched fetch of %d messages failed; degrading to per-message fetch", len(ids)),
	}, err)
	e.log.WithError(err).WithField("count", len(ids)).Warn("batch fetch degraded")

	out := make([]*provider.RawMessage, 0, len(ids))
	for _, id := range ids {
		raw, err := e.client.GetMessage(ctx, id)
		if err != nil {
			e.tel.RecordError(telemetry.SyncError{
				MessageID: id,
				Operation: "fetch message",
				Message:   "failed to fetch message body",
			}, err)
			continue
		}
		out = append(out, raw)
	}
	return out
}

// processMessage runs one message through normalize → contact resolve →
// store. Failures are non-critical: they are logged and the loop moves on.
// The processed counter advances exactly once per message.
func (e *Engine) processMessage(ctx context.Context, raw *provider.RawMessage) {
	defer e.advanceProcessed()

	canonical, err := normalize.Normalize(raw)
	if err != nil {
		id := ""
		if raw != nil {
			id = raw.ID
		}
		e.tel.RecordError(telemetry.SyncError{
			MessageID: id,
			Operation: "normalize",
			Message:   "failed to parse message structure",
		}, err)
		return
	}

	var contactID string
	if canonical.From.Email != "" {
		contact, err := e.resolver.FindOrCreateByEmail(ctx, canonical.From.Email, canonical.From.Name)
		if err != nil {
			e.tel.RecordError(telemetry.SyncError{
				MessageID: canonical.MessageID,
				Operation: "resolve contact",
				Message:   fmt.Sprintf("failed to resolve %s", canonical.From.Email),
			}, err)
		} else if contact != nil {
			contactID = contact.ID
		}
	}

	direction := "incoming"
	e.mu.Lock()
	account := e.account
	e.mu.Unlock()
	if account != "" && canonical.From.Email == contacts.NormalizeEmail(account) {
		direction = "outgoing"
	}

	metadata, _ := json.Marshal(map[string]any{
		"to":              canonical.To,
		"cc":              canonical.Cc,
		"bcc":             canonical.Bcc,
		"labelIds":        canonical.LabelIDs,
		"snippet":         canonical.Snippet,
		"attachmentCount": canonical.AttachmentCount,
		"attachmentKinds": canonical.AttachmentKinds,
		"inReplyTo":       canonical.InReplyTo,
		"references":      canonical.References,
	})

	comm := &store.Communication{
		ID:              uuid.NewString(),
		Source:          e.cfg.Source,
		SourceMessageID: canonical.MessageID,
		ContactID:       contactID,
		Direction:       direction,
		Timestamp:       canonical.Timestamp,
		Subject:         canonical.Subject,
		BodyText:        canonical.BodyText,
		ContentType:     canonical.ContentType,
		ThreadID:        canonical.ThreadID,
		MetadataJSON:    string(metadata),
	}

	inserted, err := e.store.InsertCommunication(ctx, comm)
	if err != nil {
		e.tel.RecordError(telemetry.SyncError{
			MessageID: canonical.MessageID,
			Operation: "store communication",
			Message:   "failed to persist communication",
		}, err)
		return
	}
	if !inserted {
		// Duplicate delivery; already present is success, not an error.
		return
	}

	if contactID != "" {
		if err := e.resolver.RecordCommunication(ctx, contactID, canonical.Timestamp); err != nil {
			e.log.WithError(err).WithField("contact", contactID).Warn("failed to update contact stats")
		}
	}

	if e.pub != nil {
		e.enqueueEvent(ctx, comm)
	}
}

// advanceProcessed bumps the processed counter and recomputes throughput
// and the remaining-time estimate.
func (e *Engine) advanceProcessed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.progress.ProcessedMessages++
	if e.progress.StartTime != nil {
		elapsed := time.Since(*e.progress.StartTime).Seconds()
		if elapsed > 0 {
			e.progress.MessagesPerSecond = float64(e.progress.ProcessedMessages) / elapsed
		}
	}
	if e.progress.MessagesPerSecond > 0 {
		left := e.progress.TotalMessages - e.progress.ProcessedMessages
		if left < 0 {
			left = 0
		}
		e.progress.EstimatedSecondsRemaining = float64(left) / e.progress.MessagesPerSecond
	}
}

// enqueueEvent stages an ingested-communication event for the outbox
// dispatcher.
func (e *Engine) enqueueEvent(ctx context.Context, comm *store.Communication) {
	payload, err := json.Marshal(comm)
	if err != nil {
		return
	}
	e.mu.Lock()
	account := e.account
	e.mu.Unlock()
	subject := events.Subject(account, eventTypeIngested)
	msgID := fmt.Sprintf("%s|%s|%s", eventTypeIngested, comm.Source, comm.SourceMessageID)
	if err := e.store.EnqueueOutbox(ctx, subject, eventTypeIngested, payload, msgID); err != nil {
		e.log.WithError(err).Warn("failed to enqueue event")
	}
}

// checkControl honors pause/stop requests at batch and message boundaries.
// Returns true when the loop must exit.
func (e *Engine) checkControl() bool {
	if e.stopRequested.Load() {
		e.finishRun(StatusIdle)
		e.log.Info("sync stopped")
		return true
	}
	if e.pauseRequested.Load() {
		e.finishRun(StatusPaused)
		e.log.Info("sync paused")
		return true
	}
	return false
}

// completeRun finalizes a successful run and records the provider's history
// position so the next incremental pass starts where this run ended.
func (e *Engine) completeRun(ctx context.Context) {
	e.mu.Lock()
	cursor := e.runCursor
	e.mu.Unlock()

	if cursor != "" {
		if err := e.store.SetConfig(ctx, kvCursorKey, cursor); err != nil {
			e.log.WithError(err).Warn("failed to persist history cursor")
		}
	}
	e.finishRun(StatusCompleted)
	e.log.WithField("processed", e.GetProgress().ProcessedMessages).Info("sync completed")
}

// finishRun moves the run to a terminal state. Paused runs keep their end
// time empty; they are expected to resume.
func (e *Engine) finishRun(status Status) {
	e.mu.Lock()
	e.progress.Status = status
	if status != StatusPaused {
		now := time.Now()
		e.progress.EndTime = &now
	}
	e.mu.Unlock()
	e.persistProgress(context.Background())
}

func (e *Engine) setError(message string) {
	e.mu.Lock()
	e.progress.Status = StatusError
	e.progress.Error = message
	now := time.Now()
	e.progress.EndTime = &now
	e.mu.Unlock()
	e.persistProgress(context.Background())
}

func (e *Engine) setConnection(status ConnectionStatus) {
	e.mu.Lock()
	e.progress.ConnectionStatus = status
	e.mu.Unlock()
}

// failRun records a fatal failure during Start validation.
func (e *Engine) failRun(operation string, err error) (Progress, error) {
	e.tel.RecordError(telemetry.SyncError{
		Operation:  operation,
		Message:    fmt.Sprintf("%s failed", operation),
		IsCritical: true,
	}, err)
	e.mu.Lock()
	e.progress.ConnectionStatus = ConnectionDisconnected
	e.mu.Unlock()
	e.setError(err.Error())
	e.log.WithError(err).WithField("operation", operation).Error("sync failed to start")
	return e.GetProgress(), err
}

// persistProgress saves a snapshot to the config store so progress survives
// a process restart.
func (e *Engine) persistProgress(ctx context.Context) {
	snap := e.GetProgress()
	// Telemetry is process state, not durable state.
	snap.DetailedErrors = nil
	snap.APICallLog = nil
	blob, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := e.store.SetConfig(ctx, kvProgressKey, string(blob)); err != nil {
		e.log.WithError(err).Warn("failed to persist progress snapshot")
	}
}

// RestoreProgress loads the last persisted snapshot, downgrading an
// interrupted run to idle. Called once at wiring time.
func (e *Engine) RestoreProgress(ctx context.Context) error {
	blob, err := e.store.GetConfig(ctx, kvProgressKey)
	if err != nil || blob == "" {
		return err
	}
	var snap Progress
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return fmt.Errorf("decode persisted progress: %w", err)
	}
	if snap.Status == StatusRunning || snap.Status == StatusPaused {
		snap.Status = StatusIdle
	}
	snap.ConnectionStatus = ConnectionDisconnected
	e.mu.Lock()
	e.progress = snap
	e.mu.Unlock()
	return nil
}
