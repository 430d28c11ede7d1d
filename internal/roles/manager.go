package roles

import (
	"context"
	"errors"
	"time"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

// Manager holds the role rules over one ledger State. Inside a transaction
// the State is the commit overlay; on the read path it is a session view.
type Manager struct {
	st ledger.State
}

func NewManager(st ledger.State) *Manager {
	return &Manager{st: st}
}

func (m *Manager) RoleOf(ctx context.Context, p id.Principal) (Role, error) {
	var a Assignment
	err := ledger.GetJSON(ctx, m.st, roleKey(p), &a)
	if errors.Is(err, sentinel.ErrNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

func (m *Manager) HasRole(ctx context.Context, p id.Principal, r Role) (bool, error) {
	current, err := m.RoleOf(ctx, p)
	if err != nil {
		return false, err
	}
	return current == r, nil
}

// Require is the authorization guard every mutating transaction runs first.
func (m *Manager) Require(ctx context.Context, p id.Principal, r Role) error {
	ok, err := m.HasRole(ctx, p, r)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not "+r.String())
	}
	return nil
}

// Admin returns the current admin. Before genesis it returns NotFound.
func (m *Manager) Admin(ctx context.Context) (id.Principal, error) {
	var admin id.Principal
	err := ledger.GetJSON(ctx, m.st, adminKey, &admin)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.New(dErrors.CodeNotFound, "registry has not been bootstrapped")
	}
	return admin, err
}

// Bootstrap installs the genesis admin. It succeeds once per ledger and only
// when the admin submits it.
func (m *Manager) Bootstrap(ctx context.Context, caller, admin id.Principal, at time.Time) (ledger.Outcome, error) {
	if admin.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidTarget, "genesis admin must not be the zero principal")
	}
	if caller != admin {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeUnauthorized, "bootstrap must be submitted by the genesis admin")
	}
	_, err := m.st.Get(ctx, adminKey)
	if err == nil {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeConflict, "registry already bootstrapped")
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return ledger.Outcome{}, err
	}
	if err := m.assign(ctx, admin, RoleAdmin, "", at); err != nil {
		return ledger.Outcome{}, err
	}
	if err := ledger.PutJSON(ctx, m.st, adminKey, admin); err != nil {
		return ledger.Outcome{}, err
	}
	return ledger.Result(GrantResult{Target: admin, Role: RoleAdmin, Previous: RoleNone, Changed: true},
		ledger.NewEvent(EventBootstrapped, "admin", admin.String()))
}

// Grant sets target's role. Only the admin may grant. Granting RoleAdmin
// moves the admin role: caller drops to RoleNone in the same write set, so
// exactly one admin exists before and after.
func (m *Manager) Grant(ctx context.Context, caller, target id.Principal, role Role, at time.Time) (ledger.Outcome, error) {
	if err := m.Require(ctx, caller, RoleAdmin); err != nil {
		return ledger.Outcome{}, err
	}
	if target.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidTarget, "target must not be the zero principal")
	}
	if !role.IsValid() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+role.String())
	}

	previous, err := m.RoleOf(ctx, target)
	if err != nil {
		return ledger.Outcome{}, err
	}
	result := GrantResult{Target: target, Role: role, Previous: previous}

	if target == caller {
		if role == RoleAdmin {
			return ledger.Result(result)
		}
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidTarget, "admin cannot demote itself; transfer admin first")
	}

	if err := m.assign(ctx, target, role, caller, at); err != nil {
		return ledger.Outcome{}, err
	}
	result.Changed = previous != role

	if role != RoleAdmin {
		return ledger.Result(result, ledger.NewEvent(EventRoleGranted,
			"target", target.String(),
			"role", role.String(),
			"previous", previous.String(),
			"granted_by", caller.String(),
		))
	}

	if err := m.assign(ctx, caller, RoleNone, caller, at); err != nil {
		return ledger.Outcome{}, err
	}
	if err := ledger.PutJSON(ctx, m.st, adminKey, target); err != nil {
		return ledger.Outcome{}, err
	}
	result.AdminTransferred = true
	return ledger.Result(result, ledger.NewEvent(EventAdminTransferred,
		"from", caller.String(),
		"to", target.String(),
	))
}

func (m *Manager) assign(ctx context.Context, p id.Principal, role Role, by id.Principal, at time.Time) error {
	return ledger.PutJSON(ctx, m.st, roleKey(p), Assignment{
		Principal: p,
		Role:      role,
		GrantedBy: by,
		GrantedAt: at.UTC(),
	})
}

// Apply runs a role transaction against the manager's state.
func (m *Manager) Apply(ctx context.Context, tx ledger.Tx) (ledger.Outcome, error) {
	switch tx.Type {
	case TxBootstrap:
		var p BootstrapPayload
		if err := ledger.DecodePayload(tx, &p); err != nil {
			return ledger.Outcome{}, err
		}
		return m.Bootstrap(ctx, tx.Caller, p.Admin, tx.Timestamp)
	case TxGrantRole:
		var p GrantPayload
		if err := ledger.DecodePayload(tx, &p); err != nil {
			return ledger.Outcome{}, err
		}
		return m.Grant(ctx, tx.Caller, p.Target, p.Role, tx.Timestamp)
	}
	return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported transaction type: "+string(tx.Type))
}
