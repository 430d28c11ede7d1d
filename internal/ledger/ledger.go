// Package ledger defines the gateway the registry commits through.
//
// Every mutation is a typed Tx submitted to a Gateway. A backend applies the
// Tx through an Applier inside one atomic, totally ordered commit: either all
// of the Tx's writes land at the next height or none do. Reads go through
// Query with the minimum height the calling session has already observed.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "idledger/pkg/domain"
)

// Key addresses one value in ledger state.
type Key string

// TxType routes a transaction to the rule that applies it.
type TxType string

// Tx is one mutating operation. Caller is the authenticated principal the
// transaction acts as; Timestamp is the only clock rules may read.
type Tx struct {
	ID        uuid.UUID       `json:"id"`
	Type      TxType          `json:"type"`
	Caller    id.Principal    `json:"caller"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTx encodes payload and stamps the transaction with a fresh id.
func NewTx(txType TxType, caller id.Principal, payload any, now time.Time) (Tx, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Tx{}, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	return Tx{
		ID:        uuid.New(),
		Type:      txType,
		Caller:    caller,
		Payload:   raw,
		Timestamp: now.UTC(),
	}, nil
}

// Event is emitted by a committed transaction.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent builds an event from alternating key/value attribute pairs.
func NewEvent(eventType string, kv ...string) Event {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return Event{Type: eventType, Attributes: attrs}
}

// Outcome is what an Applier produces for a transaction.
type Outcome struct {
	Result json.RawMessage
	Events []Event
}

// Receipt acknowledges a committed transaction.
type Receipt struct {
	TxID        uuid.UUID       `json:"tx_id"`
	Height      uint64          `json:"height"`
	CommittedAt time.Time       `json:"committed_at"`
	Keys        []Key           `json:"keys,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Events      []Event         `json:"events,omitempty"`
}

// DecodeResult unmarshals the receipt's result payload into v.
func (r Receipt) DecodeResult(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("receipt %s has no result", r.TxID)
	}
	return json.Unmarshal(r.Result, v)
}

// Committed pairs a transaction with its receipt in the transaction log.
type Committed struct {
	Tx      Tx
	Receipt Receipt
}

// ReadDescriptor selects a key. MinHeight is the lowest ledger height the
// answer may reflect; zero accepts any height.
type ReadDescriptor struct {
	Key       Key
	MinHeight uint64
}

// Record is a value read from the ledger together with the height it was read at.
type Record struct {
	Key    Key
	Value  []byte
	Height uint64
}

// Gateway is the only component that persists registry state.
//
// Submit applies tx atomically. Rule violations come back as domain errors
// and leave state untouched. Infrastructure failures wrap
// sentinel.ErrUnavailable, in which case the caller cannot know whether the
// transaction committed and must re-query before retrying.
//
// Query returns sentinel.ErrNotFound for absent keys.
type Gateway interface {
	Submit(ctx context.Context, tx Tx) (Receipt, error)
	Query(ctx context.Context, rd ReadDescriptor) (Record, error)
	Height(ctx context.Context) (uint64, error)
	Close() error
}

// State is the key/value view an Applier reads and writes during one
// transaction. Get returns sentinel.ErrNotFound for absent keys.
type State interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Put(ctx context.Context, key Key, value []byte) error
}

// Applier is the deterministic state machine backends run transactions through.
type Applier interface {
	Apply(ctx context.Context, st State, tx Tx) (Outcome, error)
}

//go:generate mockgen -destination=mocks/mocks.go -package=mocks idledger/internal/ledger Gateway
