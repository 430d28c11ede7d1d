package identity

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"idledger/internal/fingerprint"
	"idledger/internal/ledger"
	"idledger/internal/profile"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/audit"
	"idledger/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ProfileStore is the degradable off-ledger store (profile.Resilient).
type ProfileStore interface {
	Lookup(ctx context.Context, principal id.Principal) (profile.Profile, bool)
	Save(ctx context.Context, p profile.Profile) error
}

// Service registers subjects and serves subject reads.
type Service struct {
	client         *ledger.Client
	hasher         fingerprint.Hasher
	profiles       ProfileStore
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

func WithProfileStore(store ProfileStore) Option {
	return func(s *Service) {
		s.profiles = store
	}
}

func NewService(client *ledger.Client, hasher fingerprint.Hasher, opts ...Option) *Service {
	s := &Service{
		client: client,
		hasher: hasher,
		logger: slog.Default(),
		tracer: otel.Tracer("idledger/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers caller as a subject. The raw email and external id are
// fingerprinted here and never submitted.
func (s *Service) Register(ctx context.Context, caller id.Principal, reg Registration) (*Registered, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Register")
	defer span.End()

	if caller.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	emailFP, err := s.hasher.Email(reg.Email)
	if err != nil {
		return nil, err
	}
	idFP, err := s.hasher.ExternalID(reg.ExternalID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	tx, err := ledger.NewTx(TxRegisterSubject, caller, RegisterPayload{
		DisplayName:      reg.DisplayName,
		EmailFingerprint: emailFP,
		IDFingerprint:    idFP,
	}, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build registration transaction")
	}
	receipt, err := s.client.Submit(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var out Registered
	if err := receipt.DecodeResult(&out.Subject); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode registration result")
	}
	out.Commit = receipt.Commit()

	if s.profiles != nil {
		if err := s.profiles.Save(ctx, profile.Profile{
			Principal:    caller,
			DisplayName:  reg.DisplayName,
			Organization: reg.Organization,
			UpdatedAt:    now.UTC(),
		}); err != nil {
			s.logger.WarnContext(ctx, "profile not saved; subject registered without display fields",
				"principal", caller,
				"error", err,
			)
		}
	}

	s.logAudit(ctx, audit.Event{
		Principal: caller,
		Action:    string(audit.EventSubjectRegistered),
		TxID:      out.Commit.TxID.String(),
		Height:    out.Commit.Height,
		Timestamp: out.Commit.CommittedAt,
	})
	return &out, nil
}

// Get returns the subject record with its profile. The ledger read and the
// profile lookup run concurrently; only the ledger read can fail the call.
func (s *Service) Get(ctx context.Context, caller, principal id.Principal) (*SubjectView, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Get")
	defer span.End()

	if principal.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}

	var (
		subject  *Subject
		prof     profile.Profile
		degraded bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subject, err = NewManager(s.client.View(caller)).Get(gctx, principal)
		return err
	})
	if s.profiles != nil {
		g.Go(func() error {
			prof, degraded = s.profiles.Lookup(gctx, principal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := &SubjectView{Subject: *subject, ProfileDegraded: degraded}
	if !prof.IsEmpty() {
		view.Profile = &prof
	}
	return view, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, event.Action,
		"event", event.Action,
		"log_type", "audit",
		"principal", event.Principal,
		"tx_id", event.TxID,
		"height", event.Height,
		"request_id", event.RequestID,
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", event.Action, "error", err)
	}
}
