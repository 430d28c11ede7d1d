package ledger

import (
	"context"
	"errors"
	"time"

	"idledger/internal/platform/metrics"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

// Client is the service-side handle on a Gateway. It tracks session heights,
// translates gateway failures into domain errors and never retries.
type Client struct {
	gateway  Gateway
	sessions *Sessions
	metrics  *metrics.Metrics
}

type ClientOption func(*Client)

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(gateway Gateway, sessions *Sessions, opts ...ClientOption) *Client {
	if sessions == nil {
		sessions = NewSessions()
	}
	c := &Client{gateway: gateway, sessions: sessions}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit commits tx once. On success the caller's session advances to the
// receipt height.
func (c *Client) Submit(ctx context.Context, tx Tx) (Receipt, error) {
	start := time.Now()
	receipt, err := c.gateway.Submit(ctx, tx)
	if err != nil {
		err = Unavailable(err)
		c.observe(string(tx.Type), string(dErrors.CodeOf(err)), start, err)
		return Receipt{}, err
	}
	c.sessions.Observe(tx.Caller, receipt.Height)
	c.observe(string(tx.Type), "committed", start, nil)
	return receipt, nil
}

// View returns a read-only State whose reads reflect everything already
// acknowledged to caller.
func (c *Client) View(caller id.Principal) State {
	return &readView{client: c, minHeight: c.sessions.MinHeight(caller)}
}

func (c *Client) Height(ctx context.Context) (uint64, error) {
	h, err := c.gateway.Height(ctx)
	if err != nil {
		return 0, Unavailable(err)
	}
	return h, nil
}

func (c *Client) observe(txType, outcome string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveTransaction(txType, outcome, start)
	if dErrors.HasCode(err, dErrors.CodeGatewayUnavailable) {
		c.metrics.IncGatewayUnavailable()
	}
}

type readView struct {
	client    *Client
	minHeight uint64
}

func (v *readView) Get(ctx context.Context, key Key) ([]byte, error) {
	start := time.Now()
	rec, err := v.client.gateway.Query(ctx, ReadDescriptor{Key: key, MinHeight: v.minHeight})
	if v.client.metrics != nil {
		v.client.metrics.ObserveQuery(start)
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		err = Unavailable(err)
		if v.client.metrics != nil && dErrors.HasCode(err, dErrors.CodeGatewayUnavailable) {
			v.client.metrics.IncGatewayUnavailable()
		}
		return nil, err
	}
	return rec.Value, nil
}

func (v *readView) Put(context.Context, Key, []byte) error {
	return sentinel.ErrInvalidState
}

// Unavailable translates a gateway or state failure for callers. Domain errors
// pass through unchanged; everything else means the ledger could not answer.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeGatewayUnavailable, "ledger unavailable")
}
