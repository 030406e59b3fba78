package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	profileErr error
	calls      int
}

func (s *stubClient) Profile(ctx context.Context) (*Profile, error) {
	s.calls++
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return &Profile{EmailAddress: "me@example.com"}, nil
}

func (s *stubClient) ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*ListPage, error) {
	s.calls++
	return &ListPage{}, nil
}

func (s *stubClient) GetMessage(ctx context.Context, id string) (*RawMessage, error) {
	s.calls++
	return &RawMessage{ID: id}, nil
}

func (s *stubClient) GetMessagesBatch(ctx context.Context, ids []string) ([]*RawMessage, error) {
	s.calls++
	return nil, nil
}

func (s *stubClient) History(ctx context.Context, sinceCursor string) (*HistoryPage, error) {
	s.calls++
	return &HistoryPage{}, nil
}

type recordingObserver struct {
	endpoints []string
	statuses  []int
	bodies    []string
}

func (r *recordingObserver) ObserveCall(endpoint, verb string, statusCode int, duration time.Duration, body string) {
	r.endpoints = append(r.endpoints, endpoint)
	r.statuses = append(r.statuses, statusCode)
	r.bodies = append(r.bodies, body)
}

func TestThrottledObservesCalls(t *testing.T) {
	obs := &recordingObserver{}
	tc := Throttle(&stubClient{}, 1000, obs)
	ctx := context.Background()

	_, err := tc.Profile(ctx)
	require.NoError(t, err)
	_, err = tc.ListMessages(ctx, "", 10, "")
	require.NoError(t, err)
	_, err = tc.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	_, err = tc.GetMessagesBatch(ctx, []string{"m-1"})
	require.NoError(t, err)
	_, err = tc.History(ctx, "1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"profile.get", "messages.list", "messages.get",
		"messages.batchGet", "history.list",
	}, obs.endpoints)
	assert.Equal(t, []int{200, 200, 200, 200, 200}, obs.statuses)
}

func TestThrottledObservesFailures(t *testing.T) {
	obs := &recordingObserver{}
	stub := &stubClient{
		profileErr: NewError(CategoryAuthExpired, 401, "token expired", `{"error": "expired"}`),
	}
	tc := Throttle(stub, 1000, obs)

	_, err := tc.Profile(context.Background())
	require.Error(t, err)
	require.Len(t, obs.statuses, 1)
	assert.Equal(t, 401, obs.statuses[0])
	assert.Equal(t, `{"error": "expired"}`, obs.bodies[0])
}

func TestThrottledHonorsContextCancel(t *testing.T) {
	stub := &stubClient{}
	// 1 qps with a burst of 1: the second call must wait, and a canceled
	// context aborts that wait without reaching the client.
	tc := Throttle(stub, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := tc.Profile(ctx)
	require.NoError(t, err)

	cancel()
	_, err = tc.Profile(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestThrottleDefaultsQPS(t *testing.T) {
	tc := Throttle(&stubClient{}, 0, nil)
	assert.InDelta(t, 4, float64(tc.limiter.Limit()), 0.001)
}
