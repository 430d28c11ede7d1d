package verification

import (
	"context"
	"time"

	"idledger/internal/credential"
	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/roles"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

// Engine answers verification questions from ledger state alone.
type Engine struct {
	roles       *roles.Manager
	subjects    *identity.Manager
	credentials *credential.Manager
}

func NewEngine(st ledger.State, hasher fingerprint.Hasher) *Engine {
	return &Engine{
		roles:       roles.NewManager(st),
		subjects:    identity.NewManager(st),
		credentials: credential.NewManager(st, hasher),
	}
}

// Check reports whether fp is an issued credential of subject. Only a failed
// role check or an unreadable ledger is an error.
func (e *Engine) Check(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (bool, credential.Status, error) {
	if err := e.roles.Require(ctx, caller, roles.RoleVerifier); err != nil {
		return false, "", err
	}
	c, err := e.credentials.Get(ctx, subject, fp)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return c.IsIssued(), c.Status, nil
}

// MarkVerified re-runs Check inside the commit and flags the subject when it
// still passes. A credential revoked in between leaves the subject alone.
func (e *Engine) MarkVerified(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint, at time.Time) (ledger.Outcome, error) {
	valid, _, err := e.Check(ctx, caller, subject, fp)
	if err != nil {
		return ledger.Outcome{}, err
	}
	result := MarkResult{Subject: subject}
	if !valid {
		return ledger.Result(result)
	}
	marked, err := e.subjects.MarkVerified(ctx, subject, caller, at)
	if err != nil {
		return ledger.Outcome{}, err
	}
	result.Marked = marked
	if !marked {
		return ledger.Result(result)
	}
	return ledger.Result(result, ledger.NewEvent(identity.EventSubjectVerified,
		"principal", subject.String(),
		"verifier", caller.String(),
		"fingerprint", fp.Hex(),
	))
}

func (e *Engine) Apply(ctx context.Context, tx ledger.Tx) (ledger.Outcome, error) {
	if tx.Type != TxMarkVerified {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported transaction type: "+string(tx.Type))
	}
	var p MarkVerifiedPayload
	if err := ledger.DecodePayload(tx, &p); err != nil {
		return ledger.Outcome{}, err
	}
	return e.MarkVerified(ctx, tx.Caller, p.Subject, p.Fingerprint, tx.Timestamp)
}
