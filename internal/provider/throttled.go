package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// CallObserver receives one record per provider API call. The body is only
// passed through for failed calls; successful responses are not retained.
type CallObserver interface {
	ObserveCall(endpoint, verb string, statusCode int, duration time.Duration, body string)
}

// Throttled wraps a Client with a request-rate limiter and per-call
// observation. Every engine call goes through this wrapper so that the
// telemetry log sees timing and status for all provider traffic.
type Throttled struct {
	inner    Client
	limiter  *rate.Limiter
	observer CallObserver
}

// Throttle wraps client, limiting it to qps calls per second. A nil observer
// disables call recording.
func Throttle(client Client, qps float64, observer CallObserver) *Throttled {
	if qps <= 0 {
		qps = 4
	}
	return &Throttled{
		inner:    client,
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
		observer: observer,
	}
}

func (t *Throttled) observe(endpoint, verb string, start time.Time, err error) {
	if t.observer == nil {
		return
	}
	status := 200
	body := ""
	if err != nil {
		status = StatusCodeOf(err)
		if status == 0 {
			status = 500
		}
		body = BodyOf(err)
		if body == "" {
			body = err.Error()
		}
	}
	t.observer.ObserveCall(endpoint, verb, status, time.Since(start), body)
}

func (t *Throttled) Profile(ctx context.Context) (*Profile, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := t.inner.Profile(ctx)
	t.observe("profile.get", "GET", start, err)
	return p, err
}

func (t *Throttled) ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*ListPage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	page, err := t.inner.ListMessages(ctx, query, pageSize, pageToken)
	t.observe("messages.list", "GET", start, err)
	return page, err
}

func (t *Throttled) GetMessage(ctx context.Context, id string) (*RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	msg, err := t.inner.GetMessage(ctx, id)
	t.observe("messages.get", "GET", start, err)
	return msg, err
}

func (t *Throttled) GetMessagesBatch(ctx context.Context, ids []string) ([]*RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	msgs, err := t.inner.GetMessagesBatch(ctx, ids)
	t.observe("messages.batchGet", "POST", start, err)
	return msgs, err
}

func (t *Throttled) History(ctx context.Context, sinceCursor string) (*HistoryPage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	page, err := t.inner.History(ctx, sinceCursor)
	t.observe("history.list", "GET", start, err)
	return page, err
}

var _ Client = (*Throttled)(nil)
