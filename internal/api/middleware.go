package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	coreerrors "memcore/internal/errors"
	"memcore/pkg/auth"
)

// Authenticate builds JWT authentication middleware bound to validator,
// adapted from the teacher's AuthenticateWithConfig
// (interfaces/http/rest/middleware/auth.go) — extract bearer token,
// validate, place the principal on the request context.
func Authenticate(validator *auth.JWTValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				coreerrors.WriteJSON(w, coreerrors.Unauthorized("AUTH_TOKEN_MISSING", "missing authentication token").Build())
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Warn("invalid token", zap.Error(err), zap.String("path", r.URL.Path))
				coreerrors.WriteJSON(w, coreerrors.Unauthorized("AUTH_TOKEN_INVALID", "invalid or expired token").Build())
				return
			}

			userCtx := &auth.UserContext{UserID: claims.UserID, Email: claims.Email, Roles: claims.Roles}
			ctx := auth.SetUserInContext(r.Context(), userCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return authHeader
	}
	return r.URL.Query().Get("token")
}

// Logger builds request logging middleware, adapted from the teacher's
// middleware.Logger (interfaces/http/rest/middleware/logging.go).
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
