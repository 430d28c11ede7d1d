package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	dErrors "idledger/pkg/domain-errors"
)

// GetJSON reads key and decodes it into v. Absent keys return
// sentinel.ErrNotFound unchanged.
func GetJSON(ctx context.Context, st State, key Key, v any) error {
	raw, err := st.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, fmt.Sprintf("corrupt ledger record %s", key))
	}
	return nil
}

func PutJSON(ctx context.Context, st State, key Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return st.Put(ctx, key, raw)
}

// DecodePayload unmarshals tx's payload into v.
func DecodePayload(tx Tx, v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("malformed %s payload", tx.Type))
	}
	return nil
}

// Result encodes v as an Outcome result.
func Result(v any, events ...Event) (Outcome, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode result: %w", err)
	}
	return Outcome{Result: raw, Events: events}, nil
}

// Commit identifies where a transaction landed. Services attach it to their
// results; it is never part of ledger state.
type Commit struct {
	TxID        uuid.UUID
	Height      uint64
	CommittedAt time.Time
}

func (r Receipt) Commit() Commit {
	return Commit{TxID: r.TxID, Height: r.Height, CommittedAt: r.CommittedAt}
}
