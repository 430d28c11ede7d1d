package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/httputil"
	"idledger/pkg/platform/middleware/auth"
	"idledger/pkg/platform/middleware/metadata"
	"idledger/pkg/platform/middleware/opstoken"
	"idledger/pkg/platform/middleware/request"
	"idledger/pkg/platform/middleware/requesttime"
)

// RequestTimeout bounds one API request, including the ledger commit.
const RequestTimeout = 30 * time.Second

type HeightReader interface {
	Height(ctx context.Context) (uint64, error)
}

// ProfileHealth reports whether the off-ledger profile store is serving.
type ProfileHealth interface {
	Healthy() bool
}

type RouterConfig struct {
	Logger    *slog.Logger
	Handler   *Handler
	Validator auth.TokenValidator
	Ledger    HeightReader
	NetworkID uint64
	// Profiles is nil when no profile store is configured.
	Profiles ProfileHealth
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// MetricsToken, when set, is required in X-Ops-Token on /metrics.
	MetricsToken string
	// RateLimit runs after authentication; nil disables it.
	RateLimit func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", healthz(cfg))
	r.With(opstoken.Require(cfg.MetricsToken, cfg.Logger)).
		Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(RequestTimeout))
		api.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
		if cfg.RateLimit != nil {
			api.Use(cfg.RateLimit)
		}
		cfg.Handler.Register(api)
	})
	return r
}

func healthz(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := cfg.Ledger.Height(r.Context())
		if err != nil {
			cfg.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeGatewayUnavailable, "ledger unavailable"))
			return
		}
		resp := HealthResponse{Status: "ok", Height: height, NetworkID: cfg.NetworkID}
		if cfg.Profiles != nil {
			resp.ProfileStore = "ok"
			if !cfg.Profiles.Healthy() {
				resp.ProfileStore = "degraded"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
