package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"idledger/pkg/requestcontext"
)

// ClientMetadata records client IP, User-Agent and a coarse client kind in
// the request context. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua, ClientKind(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientKind classifies a User-Agent string as "bot", "mobile", "browser"
// or "other". Empty input yields "".
func ClientKind(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	}
	if name, _ := ua.Browser(); name != "" && ua.Platform() != "" {
		return "browser"
	}
	return "other"
}

// ClientIPFromRequest extracts the client IP, honouring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For is "client, proxy1, proxy2"
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
