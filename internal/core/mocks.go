package core

import (
	"context"
	"sync"
	"time"

	"modelpass/internal/types"
)

// MockAuthenticator is an Authenticator for tests. ResolveTokenFunc wins
// over Err, which wins over Actor.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// RecordedRequest is one MockMetricsCollector call.
type RecordedRequest struct {
	Method, Endpoint, Status string
	Duration                 time.Duration
}

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []RecordedRequest
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RecordedRequest{method, endpoint, status, duration})
}

// Recorded returns a copy of the recorded calls.
func (m *MockMetricsCollector) Recorded() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.Calls...)
}

// MockHealthCheck is a HealthCheck with a fixed result. Delay simulates a
// slow dependency and respects the context.
type MockHealthCheck struct {
	CheckName string
	Err       error
	Delay     time.Duration
}

func (m *MockHealthCheck) Name() string { return m.CheckName }

func (m *MockHealthCheck) Check(ctx context.Context) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Err
}
