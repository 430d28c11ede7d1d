package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"idledger/internal/credential"
	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	jwttoken "idledger/internal/jwt_token"
	"idledger/internal/ledger"
	"idledger/internal/ledger/cache"
	"idledger/internal/ledger/memory"
	"idledger/internal/ledger/postgres"
	"idledger/internal/ledger/sqlite"
	"idledger/internal/platform/config"
	"idledger/internal/platform/httpserver"
	"idledger/internal/platform/kafka"
	"idledger/internal/platform/logger"
	"idledger/internal/platform/metrics"
	"idledger/internal/platform/redis"
	"idledger/internal/profile"
	"idledger/internal/ratelimit"
	"idledger/internal/registry"
	"idledger/internal/roles"
	httptransport "idledger/internal/transport/http"
	"idledger/internal/verification"
	audit "idledger/pkg/platform/audit"
	"idledger/pkg/platform/audit/publisher"
	auditmemory "idledger/pkg/platform/audit/store/memory"
	auditpostgres "idledger/pkg/platform/audit/store/postgres"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("idledger stopped with error", "error", err)
		os.Exit(1)
	}
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanup closers
	defer cleanup.run()

	m := metrics.New(prometheus.DefaultRegisterer)
	hasher := fingerprint.New(cfg.Fingerprint)
	machine := registry.NewMachine(hasher)

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		cleanup.add(func() { _ = rc.Close() })
	}

	gateway, err := openLedger(ctx, cfg, machine, rc, log)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = gateway.Close() })
	client := ledger.NewClient(gateway, ledger.NewSessions(), ledger.WithMetrics(m))

	roleService := roles.NewService(client, roles.WithLogger(log))
	if _, err := roleService.EnsureGenesis(ctx, cfg.GenesisAdmin); err != nil {
		return fmt.Errorf("genesis bootstrap: %w", err)
	}

	profiles, err := openProfiles(ctx, cfg, rc, m, log, &cleanup)
	if err != nil {
		return err
	}

	auditPublisher, err := openAudit(ctx, cfg, m, log, &cleanup)
	if err != nil {
		return err
	}

	identityOpts := []identity.Option{
		identity.WithLogger(log),
		identity.WithAuditPublisher(auditPublisher),
	}
	var profileHealth httptransport.ProfileHealth
	if profiles != nil {
		identityOpts = append(identityOpts, identity.WithProfileStore(profiles))
		profileHealth = profiles
	}
	handler := httptransport.New(log,
		roles.NewService(client, roles.WithLogger(log), roles.WithAuditPublisher(auditPublisher)),
		identity.NewService(client, hasher, identityOpts...),
		credential.NewService(client, hasher,
			credential.WithLogger(log),
			credential.WithAuditPublisher(auditPublisher),
		),
		verification.NewService(client, hasher,
			verification.WithLogger(log),
			verification.WithAuditPublisher(auditPublisher),
			verification.WithMetrics(m),
		),
	)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:       log,
		Handler:      handler,
		Validator:    jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience),
		Ledger:       client,
		NetworkID:    cfg.Ledger.NetworkID,
		Profiles:     profileHealth,
		RateLimit:    newRateLimiter(cfg, rc, m, log).Handler,
		MetricsToken: cfg.Server.MetricsToken,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting idledger",
			"addr", cfg.Server.Addr,
			"ledger", cfg.Ledger.Backend,
			"profile_store", cfg.Profile.Backend,
			"network_id", cfg.Ledger.NetworkID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openLedger(ctx context.Context, cfg config.Config, machine ledger.Applier, rc *redis.Client, log *slog.Logger) (ledger.Gateway, error) {
	var (
		gw  ledger.Gateway
		err error
	)
	switch cfg.Ledger.Backend {
	case config.LedgerPostgres:
		gw, err = postgres.New(ctx, cfg.Ledger.PostgresDSN, machine)
	case config.LedgerSQLite:
		gw, err = sqlite.Open(ctx, cfg.Ledger.SQLitePath, machine)
	default:
		gw = memory.New(machine)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Ledger.Backend, err)
	}
	if rc == nil {
		return gw, nil
	}
	log.Info("ledger reads cached in redis", "ttl", cfg.Redis.CacheTTL)
	return cache.New(gw, rc.Client, cache.WithTTL(cfg.Redis.CacheTTL), cache.WithLogger(log)), nil
}

// openProfiles never fails startup on an unreachable store: the registry
// serves with empty profiles until the store answers.
func openProfiles(ctx context.Context, cfg config.Config, rc *redis.Client, m *metrics.Metrics, log *slog.Logger, cleanup *closers) (*profile.Resilient, error) {
	var store profile.Store
	switch cfg.Profile.Backend {
	case config.ProfileNone:
		return nil, nil
	case config.ProfileRedis:
		store = profile.NewRedisStore(rc.Client)
	case config.ProfilePostgres:
		pg, err := profile.NewPostgres(cfg.Profile.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = pg.Close() })
		store = pg
	default:
		store = profile.NewInMemoryStore()
	}
	profiles := profile.NewResilient(store,
		profile.WithLogger(log),
		profile.WithMetrics(m),
		profile.WithCallTimeout(cfg.Profile.CallTimeout),
	)
	if !profiles.Check(ctx) {
		log.Warn("profile store unreachable; serving degraded profiles", "backend", cfg.Profile.Backend)
	}
	return profiles, nil
}

func openAudit(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *slog.Logger, cleanup *closers) (*publisher.Publisher, error) {
	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(m),
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
	}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(ctx, kafka.Config{
			Brokers: cfg.Audit.KafkaBrokers,
			Topic:   cfg.Audit.KafkaTopic,
		})
		if err != nil {
			return nil, err
		}
		cleanup.add(producer.Close)
		opts = append(opts, publisher.WithSink(producer))
	}
	var store audit.Store = auditmemory.NewInMemoryStore()
	if cfg.Audit.PostgresDSN != "" {
		pg, err := auditpostgres.Open(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = pg.Close() })
		store = pg
	}
	p := publisher.NewPublisher(store, opts...)
	cleanup.add(p.Close)
	return p, nil
}

func newRateLimiter(cfg config.Config, rc *redis.Client, m *metrics.Metrics, log *slog.Logger) *ratelimit.Middleware {
	var store ratelimit.Store = ratelimit.NewInMemoryStore()
	if rc != nil {
		store = ratelimit.NewRedisStore(rc.Client)
	}
	return ratelimit.New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(m),
	)
}
