package audit

import (
	"context"
	"time"

	id "idledger/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers identity and credential lifecycle changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers privilege changes and revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine reads such as verification checks.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after a ledger commit or a verification check. It never
// carries raw personal data: subjects are principals and credentials are
// fingerprints.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// Principal is the party the event is about (the grantee, the subject).
	Principal id.Principal `json:"principal"`
	// ActorID is the authenticated caller when different from Principal.
	ActorID     string `json:"actor_id,omitempty"`
	Action      string `json:"action"`
	Role        string `json:"role,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	TxID        string `json:"tx_id,omitempty"`
	Height      uint64 `json:"height,omitempty"`
}

type AuditEvent string

const (
	EventSubjectRegistered AuditEvent = "subject_registered"
	EventSubjectVerified   AuditEvent = "subject_verified"

	EventRoleGranted      AuditEvent = "role_granted"
	EventAdminTransferred AuditEvent = "admin_transferred"

	EventCredentialIssued   AuditEvent = "credential_issued"
	EventCredentialRevoked  AuditEvent = "credential_revoked"
	EventCredentialVerified AuditEvent = "credential_verified"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSubjectRegistered: CategoryCompliance,
	EventSubjectVerified:   CategoryCompliance,
	EventCredentialIssued:  CategoryCompliance,

	EventRoleGranted:       CategorySecurity,
	EventAdminTransferred:  CategorySecurity,
	EventCredentialRevoked: CategorySecurity,

	EventCredentialVerified: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events and lists them per principal.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByPrincipal(ctx context.Context, principal id.Principal) ([]Event, error)
}

// Sink receives a copy of every persisted event, e.g. a message broker.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
