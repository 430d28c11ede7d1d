package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"idledger/internal/platform/metrics"
	"idledger/pkg/platform/httputil"
	"idledger/pkg/requestcontext"
)

type Middleware struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// New allows limit requests per caller per window. A limit of zero or less
// disables throttling.
func New(store Store, limit int, window time.Duration, opts ...Option) *Middleware {
	m := &Middleware{store: store, limit: limit, window: window, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler must run after authentication so the principal is known.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.limit <= 0 || m.window <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := callerKey(r)

		result, err := m.store.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.logger.WarnContext(ctx, "rate limit check failed; allowing request",
				"key", key,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.IncRateLimited()
			}
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"key", key,
				"request_id", requestcontext.RequestID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
				Error:            "rate_limited",
				ErrorDescription: "too many requests; retry after " + strconv.Itoa(result.RetryAfter) + "s",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	ctx := r.Context()
	if p := requestcontext.Principal(ctx); !p.IsZero() {
		return "principal:" + p.String()
	}
	return "ip:" + requestcontext.ClientIP(ctx)
}
