// Package auth authenticates callers by bearer token and places their
// principal in the request context.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "idledger/pkg/domain"
	"idledger/pkg/platform/httputil"
	"idledger/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to the principal it was issued to.
type TokenValidator interface {
	PrincipalFromToken(token string) (id.Principal, error)
}

func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthenticated request - missing bearer token",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteUnauthenticated(w, "Missing bearer token")
				return
			}

			principal, err := validator.PrincipalFromToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthenticated request - invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteUnauthenticated(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, principal)))
		})
	}
}
