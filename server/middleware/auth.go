package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/server/handlers"
)

// V1AuthMiddleware authenticates the Authorization header and records the
// user as the request principal.
func V1AuthMiddleware(authenticator auth.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing Authorization header")
				handlers.SendErrorResponse(w, r, logger, auth.ErrAuthenticationFailed)
				return
			}

			userID, err := authenticator.Authenticate(r.Context(), authHeader)
			if err != nil {
				logger.Debug("Authentication failed", zap.Error(err))
				handlers.SendErrorResponse(w, r, logger, auth.ErrAuthenticationFailed)
				return
			}

			logger.Debug("User authenticated", log.UserField(userID))

			ctx := metadata.WithPrincipal(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
