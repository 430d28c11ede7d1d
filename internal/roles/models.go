package roles

import (
	"strings"
	"time"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

// Role is the single role a principal holds. A principal without a record
// holds RoleNone.
type Role string

const (
	RoleNone     Role = "none"
	RoleAdmin    Role = "admin"
	RoleIssuer   Role = "issuer"
	RoleVerifier Role = "verifier"
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}

func (r Role) IsValid() bool {
	switch r {
	case RoleNone, RoleAdmin, RoleIssuer, RoleVerifier:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Assignment is the ledger record behind a principal's role.
type Assignment struct {
	Principal id.Principal `json:"principal"`
	Role      Role         `json:"role"`
	GrantedBy id.Principal `json:"granted_by,omitempty"`
	GrantedAt time.Time    `json:"granted_at"`
}

const (
	TxBootstrap ledger.TxType = "bootstrap"
	TxGrantRole ledger.TxType = "grant_role"
)

const (
	EventBootstrapped     = "ledger_bootstrapped"
	EventRoleGranted      = "role_granted"
	EventAdminTransferred = "admin_transferred"
)

type BootstrapPayload struct {
	Admin id.Principal `json:"admin"`
}

type GrantPayload struct {
	Target id.Principal `json:"target"`
	Role   Role         `json:"role"`
}

// GrantResult describes the effect of a committed grant. Previous is the
// target's role before the grant.
type GrantResult struct {
	Target           id.Principal  `json:"target"`
	Role             Role          `json:"role"`
	Previous         Role          `json:"previous"`
	AdminTransferred bool          `json:"admin_transferred"`
	Changed          bool          `json:"changed"`
	Commit           ledger.Commit `json:"-"`
}

const adminKey ledger.Key = "admin"

func roleKey(p id.Principal) ledger.Key {
	return ledger.Key("role/" + p.String())
}
