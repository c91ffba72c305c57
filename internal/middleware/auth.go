package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/users"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

type AuthMiddleware struct {
	users *users.Service
}

func NewAuthMiddleware(svc *users.Service) *AuthMiddleware {
	return &AuthMiddleware{users: svc}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing API key"))
			return
		}

		user, err := m.users.VerifyAPIKey(r.Context(), key)
		if err != nil {
			if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeUnauthorized {
				log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid api key attempt")
			} else {
				log.Error().Err(err).Msg("auth middleware: lookup error")
			}
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates an already-authenticated route to admin accounts.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil || user.Role != model.UserRoleAdmin {
			httputil.WriteError(w, apperrors.Forbidden("Admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// SSE clients cannot set headers.
	return r.URL.Query().Get("apiKey")
}
