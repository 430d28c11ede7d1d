// Package registry is the deterministic state machine every ledger backend
// applies transactions through. It routes a transaction to the module that
// owns its type; the modules share one State so a transaction sees its own
// writes and nothing else.
package registry

import (
	"context"

	"idledger/internal/credential"
	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/roles"
	"idledger/internal/verification"
	dErrors "idledger/pkg/domain-errors"
)

type Machine struct {
	hasher fingerprint.Hasher
}

func NewMachine(hasher fingerprint.Hasher) *Machine {
	return &Machine{hasher: hasher}
}

// Apply must stay deterministic: it reads only st and tx. The clock is
// tx.Timestamp.
func (m *Machine) Apply(ctx context.Context, st ledger.State, tx ledger.Tx) (ledger.Outcome, error) {
	if tx.Caller.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeUnauthorized, "transaction has no caller")
	}
	switch tx.Type {
	case roles.TxBootstrap, roles.TxGrantRole:
		return roles.NewManager(st).Apply(ctx, tx)
	case identity.TxRegisterSubject:
		return identity.NewManager(st).Apply(ctx, tx)
	case credential.TxIssueCredential, credential.TxRevokeCredential:
		return credential.NewManager(st, m.hasher).Apply(ctx, tx)
	case verification.TxMarkVerified:
		return verification.NewEngine(st, m.hasher).Apply(ctx, tx)
	}
	return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported transaction type: "+string(tx.Type))
}

// TxTypes lists every transaction type the machine accepts.
func TxTypes() []ledger.TxType {
	return []ledger.TxType{
		roles.TxBootstrap,
		roles.TxGrantRole,
		identity.TxRegisterSubject,
		credential.TxIssueCredential,
		credential.TxRevokeCredential,
		verification.TxMarkVerified,
	}
}
