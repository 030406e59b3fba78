// Package telemetry keeps bounded, inspectable records of sync failures and
// provider API calls, so an operator can diagnose scope or permission
// problems from a progress snapshot alone.
package telemetry

import (
	"sync"
	"time"

	"github.com/harborlight/mailsync/internal/provider"
)

const (
	// Retention limits; oldest entries are evicted first.
	maxErrors   = 50
	maxAPICalls = 20

	// Successful responses are not retained, only this marker.
	successMarker = "success"
)

// SyncError is one recorded failure. Critical errors are the ones that
// aborted a run; everything else is per-message noise the run survived.
type SyncError struct {
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"messageId,omitempty"`
	Operation   string    `json:"operation"`
	Message     string    `json:"message"`
	Detail      string    `json:"detail,omitempty"`
	RawResponse string    `json:"rawResponse,omitempty"`
	Category    string    `json:"category,omitempty"`
	Remedy      string    `json:"remedy,omitempty"`
	RetryCount  int       `json:"retryCount"`
	IsCritical  bool      `json:"isCritical"`
}

// APICallRecord is one recorded provider call.
type APICallRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"statusCode"`
	ResponseTime int64     `json:"responseTimeMs"`
	ResponseBody string    `json:"responseBody"`
}

// Log is the shared telemetry sink. Safe for concurrent use: the sync loop
// writes while HTTP snapshot reads happen.
type Log struct {
	mu       sync.Mutex
	errors   []SyncError
	apiCalls []APICallRecord
}

// NewLog creates an empty telemetry log.
func NewLog() *Log {
	return &Log{}
}

// RecordError appends a failure record, evicting the oldest entry past the
// retention limit. The category and remedy are filled in when err carries a
// structural provider category.
func (l *Log) RecordError(e SyncError, err error) {
	if err != nil {
		if e.Detail == "" {
			e.Detail = err.Error()
		}
		if e.RawResponse == "" {
			e.RawResponse = provider.BodyOf(err)
		}
		category := provider.CategoryOf(err)
		e.Category, e.Remedy = Describe(category)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, e)
	if len(l.errors) > maxErrors {
		l.errors = l.errors[len(l.errors)-maxErrors:]
	}
}

// ObserveCall implements provider.CallObserver. Bodies of successful calls
// are replaced with a marker to bound memory over a long sync.
func (l *Log) ObserveCall(endpoint, verb string, statusCode int, duration time.Duration, body string) {
	rec := APICallRecord{
		Timestamp:    time.Now(),
		Endpoint:     endpoint,
		Method:       verb,
		StatusCode:   statusCode,
		ResponseTime: duration.Milliseconds(),
		ResponseBody: successMarker,
	}
	if statusCode >= 400 {
		rec.ResponseBody = body
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.apiCalls = append(l.apiCalls, rec)
	if len(l.apiCalls) > maxAPICalls {
		l.apiCalls = l.apiCalls[len(l.apiCalls)-maxAPICalls:]
	}
}

// Errors returns a copy of the retained error records, oldest first.
func (l *Log) Errors() []SyncError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SyncError, len(l.errors))
	copy(out, l.errors)
	return out
}

// APICalls returns a copy of the retained call records, oldest first.
func (l *Log) APICalls() []APICallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]APICallRecord, len(l.apiCalls))
	copy(out, l.apiCalls)
	return out
}

// ClearErrors drops all retained error records. Call records are kept.
func (l *Log) ClearErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = nil
}

// Describe maps a provider failure category to an operator-facing label and
// suggested remedy.
func Describe(category provider.Category) (label, remedy string) {
	switch category {
	case provider.CategoryScopeInsufficient:
		return "insufficient OAuth scope",
			"reconnect the account granting read access to mail"
	case provider.CategoryPermissionDenied:
		return "permission denied",
			"check that the mailbox account has API access enabled"
	case provider.CategoryAuthExpired:
		return "authentication expired",
			"sign in again to refresh stored credentials"
	case provider.CategoryRateLimited:
		return "rate limit exceeded",
			"sync continues after the inter-batch delay; reduce batch size if it persists"
	case provider.CategoryNotFound:
		return "not found", "the message or cursor no longer exists on the provider"
	case provider.CategoryInvalidRequest:
		return "invalid request", "check the sync query and date bounds"
	default:
		return "transient provider error", "no action needed unless it persists"
	}
}
