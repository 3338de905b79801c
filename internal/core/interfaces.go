package core

import (
	"context"
	"time"

	"modelpass/internal/types"
)

// Authenticator decouples the HTTP layer from the identity provider so the
// middleware can be tested without signed tokens.
type Authenticator interface {
	// ResolveToken validates a bearer token and returns the Actor it names.
	// It returns auth_token_invalid for malformed, mis-signed or
	// wrong-audience tokens and auth_token_expired for expired ones.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// HealthCheck is one subsystem checked by GET /health.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}
