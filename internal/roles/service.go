package roles

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/audit"
	"idledger/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the caller-facing role registry. Mutations are submitted as
// ledger transactions; reads run the same Manager over a session view.
type Service struct {
	client         *ledger.Client
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

func NewService(client *ledger.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: slog.Default(),
		tracer: otel.Tracer("idledger/roles"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureGenesis bootstraps admin on an empty ledger. Re-running it with the
// admin already installed is a no-op; a different admin is a conflict.
func (s *Service) EnsureGenesis(ctx context.Context, admin id.Principal) (created bool, err error) {
	ctx, span := s.tracer.Start(ctx, "roles.EnsureGenesis")
	defer span.End()

	tx, err := ledger.NewTx(TxBootstrap, admin, BootstrapPayload{Admin: admin}, requestcontext.Now(ctx))
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build bootstrap transaction")
	}
	receipt, err := s.client.Submit(ctx, tx)
	if err == nil {
		s.logger.InfoContext(ctx, "ledger bootstrapped",
			"admin", admin,
			"tx_id", receipt.TxID,
			"height", receipt.Height,
		)
		return true, nil
	}
	if !dErrors.HasCode(err, dErrors.CodeConflict) {
		return false, err
	}

	current, readErr := NewManager(s.client.View(admin)).Admin(ctx)
	if readErr != nil {
		return false, readErr
	}
	if current != admin {
		// A transferred admin is expected after the first run; report it
		// rather than fail startup.
		s.logger.WarnContext(ctx, "configured genesis admin is no longer admin",
			"genesis_admin", admin,
			"current_admin", current,
		)
	}
	return false, nil
}

func (s *Service) Grant(ctx context.Context, caller, target id.Principal, role Role) (*GrantResult, error) {
	ctx, span := s.tracer.Start(ctx, "roles.Grant", trace.WithAttributes(
		attribute.String("role", role.String()),
	))
	defer span.End()

	if target.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidTarget, "target must not be the zero principal")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+role.String())
	}

	tx, err := ledger.NewTx(TxGrantRole, caller, GrantPayload{Target: target, Role: role}, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build grant transaction")
	}
	receipt, err := s.client.Submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "role grant rejected",
				"caller", caller,
				"target", target,
				"role", role,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}

	var result GrantResult
	if err := receipt.DecodeResult(&result); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode grant result")
	}
	result.Commit = receipt.Commit()

	switch {
	case result.AdminTransferred:
		s.logAudit(ctx, audit.EventAdminTransferred, caller, result)
	case result.Changed:
		s.logAudit(ctx, audit.EventRoleGranted, caller, result)
	}
	return &result, nil
}

// TransferAdmin moves the admin role from caller to newAdmin.
func (s *Service) TransferAdmin(ctx context.Context, caller, newAdmin id.Principal) (*GrantResult, error) {
	return s.Grant(ctx, caller, newAdmin, RoleAdmin)
}

func (s *Service) RoleOf(ctx context.Context, caller, p id.Principal) (Role, error) {
	return NewManager(s.client.View(caller)).RoleOf(ctx, p)
}

func (s *Service) HasRole(ctx context.Context, caller, p id.Principal, role Role) (bool, error) {
	if !role.IsValid() {
		return false, dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+role.String())
	}
	return NewManager(s.client.View(caller)).HasRole(ctx, p, role)
}

func (s *Service) Admin(ctx context.Context, caller id.Principal) (id.Principal, error) {
	return NewManager(s.client.View(caller)).Admin(ctx)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, caller id.Principal, result GrantResult) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"principal", result.Target,
		"actor", caller,
		"role", result.Role,
		"previous_role", result.Previous,
		"tx_id", result.Commit.TxID,
		"height", result.Commit.Height,
		"request_id", requestID,
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Principal: result.Target,
		ActorID:   caller.String(),
		Action:    string(event),
		Role:      result.Role.String(),
		RequestID: requestID,
		TxID:      result.Commit.TxID.String(),
		Height:    result.Commit.Height,
		Timestamp: result.Commit.CommittedAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}
