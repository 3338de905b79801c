package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"modelpass/internal/types"
)

// AuthMiddleware resolves the bearer token into an Actor and stores it in the
// request context. Failures are 401 responses with auth_token_missing,
// auth_token_invalid or auth_token_expired.
//
// It is applied per route group, so public routes never reach it. When no
// Authenticator is configured every request is rejected.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "no authenticator configured")
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil || actor.UserID == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken parses "Bearer <token>" with a case-insensitive scheme.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.WarnContext(r.Context(), "authentication failed: token expired",
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
				slog.String("path", r.URL.Path),
				slog.String("reason", appErr.Message),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	Error(w, r, types.NewAppError(code, message, nil))
}

// RequireActor returns the authenticated Actor or writes a 401 and reports
// false. Handlers behind AuthMiddleware use it to fetch the caller.
func RequireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return types.Actor{}, false
	}
	return actor, true
}
