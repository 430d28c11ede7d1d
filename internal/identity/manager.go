package identity

import (
	"context"
	"errors"
	"time"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

// Manager holds the identity rules over one ledger State.
type Manager struct {
	st ledger.State
}

func NewManager(st ledger.State) *Manager {
	return &Manager{st: st}
}

// Register writes the subject record and its email index entry together.
// Both checks read the same State the writes go to, so within one commit
// no other registration can interleave.
func (m *Manager) Register(ctx context.Context, principal id.Principal, p RegisterPayload, at time.Time) (ledger.Outcome, error) {
	if principal.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	if err := validateDisplayName(p.DisplayName); err != nil {
		return ledger.Outcome{}, err
	}
	if p.EmailFingerprint.IsZero() || p.IDFingerprint.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "identity fingerprints are required")
	}

	if exists, err := m.exists(ctx, subjectKey(principal)); err != nil {
		return ledger.Outcome{}, err
	} else if exists {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeAlreadyRegistered, "principal is already registered")
	}
	if exists, err := m.exists(ctx, emailKey(p.EmailFingerprint)); err != nil {
		return ledger.Outcome{}, err
	} else if exists {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeDuplicateIdentity, "email is already registered to another subject")
	}

	subject := Subject{
		Principal:        principal,
		DisplayName:      p.DisplayName,
		EmailFingerprint: p.EmailFingerprint,
		IDFingerprint:    p.IDFingerprint,
		RegisteredAt:     at.UTC(),
	}
	if err := ledger.PutJSON(ctx, m.st, subjectKey(principal), subject); err != nil {
		return ledger.Outcome{}, err
	}
	if err := ledger.PutJSON(ctx, m.st, emailKey(p.EmailFingerprint), principal); err != nil {
		return ledger.Outcome{}, err
	}
	return ledger.Result(subject, ledger.NewEvent(EventSubjectRegistered, "principal", principal.String()))
}

func (m *Manager) Get(ctx context.Context, principal id.Principal) (*Subject, error) {
	var s Subject
	err := ledger.GetJSON(ctx, m.st, subjectKey(principal), &s)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkVerified flags the subject as verified. It reports false, without
// writing, when the subject is already verified.
func (m *Manager) MarkVerified(ctx context.Context, principal, by id.Principal, at time.Time) (bool, error) {
	s, err := m.Get(ctx, principal)
	if err != nil {
		return false, err
	}
	if s.Verified {
		return false, nil
	}
	verifiedAt := at.UTC()
	s.Verified = true
	s.VerifiedAt = &verifiedAt
	s.VerifiedBy = by
	if err := ledger.PutJSON(ctx, m.st, subjectKey(principal), s); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) exists(ctx context.Context, key ledger.Key) (bool, error) {
	_, err := m.st.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Apply runs a registration transaction; the caller is the registrant.
func (m *Manager) Apply(ctx context.Context, tx ledger.Tx) (ledger.Outcome, error) {
	if tx.Type != TxRegisterSubject {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported transaction type: "+string(tx.Type))
	}
	var p RegisterPayload
	if err := ledger.DecodePayload(tx, &p); err != nil {
		return ledger.Outcome{}, err
	}
	return m.Register(ctx, tx.Caller, p, tx.Timestamp)
}
