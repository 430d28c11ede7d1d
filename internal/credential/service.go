package credential

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idledger/internal/fingerprint"
	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/audit"
	"idledger/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service issues, revokes and reads credentials.
type Service struct {
	client         *ledger.Client
	hasher         fingerprint.Hasher
	logger         *slog.Logger
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func NewService(client *ledger.Client, hasher fingerprint.Hasher, opts ...Option) *Service {
	s := &Service{
		client: client,
		hasher: hasher,
		logger: slog.Default(),
		tracer: otel.Tracer("idledger/credential"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue issues claim to subject as caller and returns the committed
// credential; its Fingerprint is what the holder presents to verifiers.
func (s *Service) Issue(ctx context.Context, caller, subject id.Principal, claim []byte) (*Committed, error) {
	ctx, span := s.tracer.Start(ctx, "credential.Issue")
	defer span.End()

	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if len(claim) > MaxClaimBytes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim payload too large")
	}
	digest, err := s.hasher.Of(claim)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim payload is required")
	}

	tx, err := ledger.NewTx(TxIssueCredential, caller, IssuePayload{Subject: subject, ClaimDigest: digest}, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build issue transaction")
	}
	out, err := s.submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logAudit(ctx, audit.EventCredentialIssued, caller, out)
	return out, nil
}

func (s *Service) Revoke(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*Committed, error) {
	ctx, span := s.tracer.Start(ctx, "credential.Revoke")
	defer span.End()

	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if fp.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed fingerprint")
	}

	tx, err := ledger.NewTx(TxRevokeCredential, caller, RevokePayload{Subject: subject, Fingerprint: fp}, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build revoke transaction")
	}
	out, err := s.submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logAudit(ctx, audit.EventCredentialRevoked, caller, out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*Credential, error) {
	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	return NewManager(s.client.View(caller), s.hasher).Get(ctx, subject, fp)
}

// Status returns Issued or Revoked, or a NotFound error.
func (s *Service) Status(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (Status, error) {
	if subject.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	return NewManager(s.client.View(caller), s.hasher).Status(ctx, subject, fp)
}

func (s *Service) submit(ctx context.Context, tx ledger.Tx) (*Committed, error) {
	receipt, err := s.client.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	var out Committed
	if err := receipt.DecodeResult(&out.Credential); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode credential result")
	}
	out.Commit = receipt.Commit()
	return &out, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, caller id.Principal, c *Committed) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"principal", c.Subject,
		"actor", caller,
		"fingerprint", c.Fingerprint,
		"tx_id", c.Commit.TxID,
		"height", c.Commit.Height,
		"request_id", requestID,
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Principal:   c.Subject,
		ActorID:     caller.String(),
		Action:      string(event),
		Fingerprint: c.Fingerprint.Hex(),
		Decision:    string(c.Status),
		RequestID:   requestID,
		TxID:        c.Commit.TxID.String(),
		Height:      c.Commit.Height,
		Timestamp:   c.Commit.CommittedAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}
