package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"idledger/internal/platform/metrics"
	id "idledger/pkg/domain"
	"idledger/pkg/platform/circuit"
	"idledger/pkg/platform/sentinel"
)

var errCircuitOpen = errors.New("profile store circuit open")

const (
	defaultCallTimeout = 500 * time.Millisecond
	defaultCooldown    = 5 * time.Second
)

// Resilient fronts a Store with a per-call timeout and a circuit breaker.
// While the breaker is open, calls skip the store and degrade immediately;
// once per cooldown one call is let through as a probe.
type Resilient struct {
	store    Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastProbe time.Time
}

type ResilientOption func(*Resilient)

func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ResilientOption {
	return func(r *Resilient) {
		r.metrics = m
	}
}

func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithCooldown(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) ResilientOption {
	return func(r *Resilient) {
		r.breaker = b
	}
}

func NewResilient(store Store, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		store:    store,
		breaker:  circuit.New("profile-store", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
		logger:   slog.Default(),
		timeout:  defaultCallTimeout,
		cooldown: defaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the profile for principal. degraded is true when the store
// could not answer; the profile is then empty. An unknown principal is an
// empty, non-degraded profile.
func (r *Resilient) Lookup(ctx context.Context, principal id.Principal) (p Profile, degraded bool) {
	if r == nil || r.store == nil {
		return Profile{}, false
	}
	if !r.allow() {
		r.degraded()
		return Profile{}, true
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p, err := r.store.Get(ctx, principal)
	if errors.Is(err, sentinel.ErrNotFound) {
		r.breaker.RecordSuccess()
		return Profile{}, false
	}
	if err != nil {
		r.fail(ctx, "lookup", err)
		return Profile{}, true
	}
	r.breaker.RecordSuccess()
	return p, false
}

// Save writes p best effort. A failure is logged, counted and returned so
// the caller can report it, but must never undo a ledger commit.
func (r *Resilient) Save(ctx context.Context, p Profile) error {
	if r == nil || r.store == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if !r.allow() {
		r.degraded()
		return errCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.Put(ctx, p); err != nil {
		r.fail(ctx, "save", err)
		return err
	}
	r.breaker.RecordSuccess()
	return nil
}

// Check pings the store once and opens the breaker when it does not answer.
// It reports whether the store is reachable.
func (r *Resilient) Check(ctx context.Context) bool {
	if r == nil || r.store == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.Ping(ctx); err != nil {
		r.MarkUnavailable(ctx, err)
		return false
	}
	return true
}

// MarkUnavailable opens the breaker for a store known to be down, such as
// one that could not be reached at startup. Calls degrade until a probe
// after the cooldown succeeds.
func (r *Resilient) MarkUnavailable(ctx context.Context, err error) {
	change := r.breaker.Trip()
	r.mu.Lock()
	r.lastProbe = r.now()
	r.mu.Unlock()
	if change.Opened {
		r.logger.WarnContext(ctx, "profile store circuit opened", "op", "startup", "error", err)
	}
}

// Healthy reports whether the breaker is closed.
func (r *Resilient) Healthy() bool {
	return r == nil || !r.breaker.IsOpen()
}

// allow lets every call through while closed and one probe per cooldown
// while open.
func (r *Resilient) allow() bool {
	if !r.breaker.IsOpen() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastProbe) < r.cooldown {
		return false
	}
	r.lastProbe = now
	return true
}

func (r *Resilient) degraded() {
	if r.metrics != nil {
		r.metrics.IncProfileDegraded()
	}
}

func (r *Resilient) fail(ctx context.Context, op string, err error) {
	_, change := r.breaker.RecordFailure()
	r.degraded()
	if change.Opened {
		r.mu.Lock()
		r.lastProbe = r.now()
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "profile store circuit opened", "op", op, "error", err)
		return
	}
	r.logger.DebugContext(ctx, "profile store degraded", "op", op, "error", err)
}
