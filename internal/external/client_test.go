package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpass/internal/types"
)

func noopSleep(time.Duration) {}

func newTestClient(t *testing.T, policy RetryPolicy) *BaseClient {
	t.Helper()
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"ModelPass-Test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func get(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDo_SuccessPropagatesHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-123", r.Header.Get("X-Request-Id"))
		assert.Equal(t, "ModelPass-Test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())
	ctx := types.WithRequestID(context.Background(), "req-123")

	resp, err := client.Do(get(t, ctx, server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(t, fastPolicy(3)).Do(get(t, context.Background(), server.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ExhaustedRetries(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   types.ErrorCode
	}{
		{"server error", http.StatusInternalServerError, types.ErrCodeUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, types.ErrCodeUpstreamRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			resp, err := newTestClient(t, fastPolicy(2)).Do(get(t, context.Background(), server.URL))
			assert.Nil(t, resp)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestDo_ClientErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	resp, err := newTestClient(t, fastPolicy(3)).Do(get(t, context.Background(), server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	policy := fastPolicy(2)
	policy.AttemptTimeout = 50 * time.Millisecond

	resp, err := newTestClient(t, policy).Do(get(t, context.Background(), server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_AttemptTimeoutExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	policy := fastPolicy(1)
	policy.AttemptTimeout = 20 * time.Millisecond

	_, err := newTestClient(t, policy).Do(get(t, context.Background(), server.URL))
	assert.Equal(t, types.ErrCodeUpstreamTimeout, types.CodeOf(err))
}

func TestDo_TransportErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	httpClient := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection reset")
	})}
	client := NewBaseClient(httpClient, "test", fastPolicy(3), "", WithSleepFunc(noopSleep))

	_, err := client.Do(get(t, context.Background(), "http://upstream.invalid/x"))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, fastPolicy(3)).Do(get(t, ctx, "http://upstream.invalid/x"))
	assert.Equal(t, types.ErrCodeUpstreamTimeout, types.CodeOf(err))
}

func TestDo_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "test-open",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})
	client := NewBaseClientWithBreaker(&http.Client{}, breaker, fastPolicy(0), "", WithSleepFunc(noopSleep))

	for range 2 {
		_, _ = client.Do(get(t, context.Background(), server.URL))
	}
	before := calls.Load()

	_, err := client.Do(get(t, context.Background(), server.URL))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	assert.Equal(t, before, calls.Load(), "open breaker must not reach the server")
}

func TestDo_BodyReplayedAcrossRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "price=price_123", string(body))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("price=price_123"))
	require.NoError(t, err)

	resp, err := newTestClient(t, fastPolicy(2)).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(2), calls.Load())
}

func TestComputeBackoff(t *testing.T) {
	c := newTestClient(t, RetryPolicy{MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	t.Run("retry-after seconds capped by max wait", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
		assert.Equal(t, time.Second, c.computeBackoff(0, resp))
	})

	t.Run("retry-after within bounds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"1"}}}
		assert.Equal(t, time.Second, c.computeBackoff(0, resp))
	})

	t.Run("exponential with jitter stays in range", func(t *testing.T) {
		for attempt := range 6 {
			d := c.computeBackoff(attempt, nil)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, time.Second)
		}
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.MinWait)
	assert.Equal(t, 10*time.Second, p.MaxWait)
	assert.Equal(t, 10*time.Second, p.AttemptTimeout)
}
