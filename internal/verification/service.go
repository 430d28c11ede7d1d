package verification

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/platform/metrics"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/audit"
	"idledger/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service verifies credentials for verifiers. The check is a read; the
// first successful check for an unverified subject also submits a
// mark_verified transaction.
type Service struct {
	client         *ledger.Client
	hasher         fingerprint.Hasher
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(client *ledger.Client, hasher fingerprint.Hasher, opts ...Option) *Service {
	s := &Service{
		client: client,
		hasher: hasher,
		logger: slog.Default(),
		tracer: otel.Tracer("idledger/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify reports whether fp is a valid credential of subject. If marking
// the subject verified fails because the ledger is unavailable the error is
// returned; Verify is safe to retry.
func (s *Service) Verify(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}

	view := s.client.View(caller)
	valid, status, err := NewEngine(view, s.hasher).Check(ctx, caller, subject, fp)
	if err != nil {
		span.RecordError(err)
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "verification rejected",
				"caller", caller,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Bool("valid", valid))
	if s.metrics != nil {
		s.metrics.IncVerification(valid)
	}

	result := &Result{Subject: subject, Fingerprint: fp, Valid: valid, Status: status}
	s.logAudit(ctx, audit.Event{
		Principal:   subject,
		ActorID:     caller.String(),
		Action:      string(audit.EventCredentialVerified),
		Fingerprint: fp.Hex(),
		Decision:    decision(valid),
	})
	if !valid {
		return result, nil
	}

	sub, err := identity.NewManager(view).Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	if sub.Verified {
		return result, nil
	}

	tx, err := ledger.NewTx(TxMarkVerified, caller, MarkVerifiedPayload{Subject: subject, Fingerprint: fp}, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build mark_verified transaction")
	}
	receipt, err := s.client.Submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "failed to mark subject verified",
			"principal", subject,
			"error", err,
		)
		return nil, err
	}
	var marked MarkResult
	if err := receipt.DecodeResult(&marked); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode mark_verified result")
	}
	commit := receipt.Commit()
	result.Commit = &commit
	result.SubjectVerified = marked.Marked
	if marked.Marked {
		s.logAudit(ctx, audit.Event{
			Principal:   subject,
			ActorID:     caller.String(),
			Action:      string(audit.EventSubjectVerified),
			Fingerprint: fp.Hex(),
			TxID:        commit.TxID.String(),
			Height:      commit.Height,
			Timestamp:   commit.CommittedAt,
		})
	}
	return result, nil
}

func decision(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, event.Action,
		"event", event.Action,
		"log_type", "audit",
		"principal", event.Principal,
		"actor", event.ActorID,
		"fingerprint", event.Fingerprint,
		"decision", event.Decision,
		"request_id", event.RequestID,
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", event.Action, "error", err)
	}
}
