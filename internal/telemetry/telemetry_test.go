package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/mailsync/internal/provider"
)

func TestErrorLogBounded(t *testing.T) {
	log := NewLog()

	for i := 0; i < 60; i++ {
		log.RecordError(SyncError{
			Operation: "test",
			Message:   fmt.Sprintf("failure %d", i),
		}, nil)
	}

	errs := log.Errors()
	require.Len(t, errs, 50)
	// Oldest 10 evicted, chronological order preserved.
	assert.Equal(t, "failure 10", errs[0].Message)
	assert.Equal(t, "failure 59", errs[49].Message)
}

func TestAPICallLogBounded(t *testing.T) {
	log := NewLog()

	for i := 0; i < 25; i++ {
		log.ObserveCall(fmt.Sprintf("endpoint.%d", i), "GET", 200, time.Millisecond, "ignored")
	}

	calls := log.APICalls()
	require.Len(t, calls, 20)
	assert.Equal(t, "endpoint.5", calls[0].Endpoint)
	assert.Equal(t, "endpoint.24", calls[19].Endpoint)
}

func TestSuccessBodiesNotRetained(t *testing.T) {
	log := NewLog()

	log.ObserveCall("messages.list", "GET", 200, 5*time.Millisecond, `{"huge": "payload"}`)
	log.ObserveCall("messages.get", "GET", 403, 5*time.Millisecond, `{"error": "forbidden"}`)

	calls := log.APICalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "success", calls[0].ResponseBody)
	assert.Equal(t, `{"error": "forbidden"}`, calls[1].ResponseBody)
}

func TestRecordErrorClassifies(t *testing.T) {
	log := NewLog()

	err := provider.NewError(provider.CategoryScopeInsufficient, 403, "insufficient scope", `{"raw": true}`)
	log.RecordError(SyncError{MessageID: "m1", Operation: "fetch message"}, err)

	errs := log.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "insufficient OAuth scope", errs[0].Category)
	assert.NotEmpty(t, errs[0].Remedy)
	assert.Equal(t, `{"raw": true}`, errs[0].RawResponse)
	assert.False(t, errs[0].IsCritical)
	assert.False(t, errs[0].Timestamp.IsZero())
}

func TestClearErrorsKeepsCalls(t *testing.T) {
	log := NewLog()
	log.RecordError(SyncError{Operation: "x", Message: "y"}, nil)
	log.ObserveCall("messages.list", "GET", 200, time.Millisecond, "")

	log.ClearErrors()

	assert.Empty(t, log.Errors())
	assert.Len(t, log.APICalls(), 1)
}

func TestDescribe(t *testing.T) {
	for _, category := range []provider.Category{
		provider.CategoryScopeInsufficient,
		provider.CategoryPermissionDenied,
		provider.CategoryAuthExpired,
		provider.CategoryRateLimited,
	} {
		label, remedy := Describe(category)
		assert.NotEmpty(t, label, category)
		assert.NotEmpty(t, remedy, category)
	}
}
