// Package opstoken guards operator endpoints such as /metrics with a static
// shared token. It is separate from bearer auth: operators are not ledger
// principals.
package opstoken

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"idledger/pkg/platform/httputil"
	"idledger/pkg/requestcontext"
)

const Header = "X-Ops-Token"

// Require rejects requests whose X-Ops-Token differs from expected. An empty
// expected token leaves the endpoint open.
func Require(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(Header)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "ops token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthenticated",
					ErrorDescription: "ops token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
