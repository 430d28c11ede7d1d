// Package requesttime pins one "now" per HTTP request so audit timestamps
// and ledger transaction timestamps agree.
package requesttime

import (
	"net/http"
	"time"

	"idledger/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
