package testutil

import (
	"net/http"
	"time"

	id "idledger/pkg/domain"
	"idledger/pkg/requestcontext"
)

// WithPrincipal marks the request as authenticated by principal, the way the
// auth middleware would.
func WithPrincipal(req *http.Request, principal string) *http.Request {
	p, err := id.ParsePrincipal(principal)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
