package verification

import (
	"idledger/internal/credential"
	"idledger/internal/ledger"
	id "idledger/pkg/domain"
)

const TxMarkVerified ledger.TxType = "mark_verified"

// MarkVerifiedPayload names the credential whose successful verification
// justifies flagging the subject.
type MarkVerifiedPayload struct {
	Subject     id.Principal   `json:"subject"`
	Fingerprint id.Fingerprint `json:"fingerprint"`
}

type MarkResult struct {
	Subject id.Principal `json:"subject"`
	Marked  bool         `json:"marked"`
}

// Result is the outcome of a verification. Valid=false is a normal answer,
// not an error.
type Result struct {
	Subject     id.Principal      `json:"subject"`
	Fingerprint id.Fingerprint    `json:"fingerprint"`
	Valid       bool              `json:"valid"`
	Status      credential.Status `json:"status,omitempty"`
	// SubjectVerified is true when this check flagged the subject as verified.
	SubjectVerified bool           `json:"subject_verified"`
	Commit          *ledger.Commit `json:"-"`
}
