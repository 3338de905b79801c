// Package auth authenticates API callers by their Supabase access tokens.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"modelpass/internal/types"
)

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// Claims is the subset of a Supabase access token the API reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SupabaseAuthenticator validates HS256 access tokens signed with the
// project's JWT secret. It implements core.Authenticator.
type SupabaseAuthenticator struct {
	secret   []byte
	audience string
	issuer   string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a SupabaseAuthenticator.
type Option func(*SupabaseAuthenticator)

// WithClock overrides the time source used for expiry checks.
func WithClock(c types.Clock) Option {
	return func(a *SupabaseAuthenticator) { a.now = c.Now }
}

// NewSupabaseAuthenticator creates an authenticator. projectURL is the
// Supabase project URL; tokens must be issued by its auth service. An empty
// audience disables the aud check.
func NewSupabaseAuthenticator(secret types.SecretString, projectURL, audience string, logger *slog.Logger, opts ...Option) *SupabaseAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &SupabaseAuthenticator{
		secret:   []byte(secret.Unmask()),
		audience: audience,
		issuer:   IssuerFor(projectURL),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssuerFor returns the iss claim Supabase writes for projectURL.
func IssuerFor(projectURL string) string {
	if projectURL == "" {
		return ""
	}
	return strings.TrimRight(projectURL, "/") + "/auth/v1"
}

// ResolveToken validates token and returns the user it was issued to.
func (a *SupabaseAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(a.now),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "access token has expired", err)
		}
		a.logger.DebugContext(ctx, "rejected access token", "error", err.Error())
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token is invalid", err)
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token subject is not a user id", err)
	}
	if claims.Role == "anon" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "anonymous tokens cannot access user resources", nil)
	}

	return &types.Actor{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
