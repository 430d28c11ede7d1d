// Package fabric runs the registry state machine as Hyperledger Fabric
// chaincode. Endorsement and ordering give the atomic, totally ordered
// commit; the contract applies each transaction over the world state.
package fabric

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"idledger/internal/ledger"
	"idledger/internal/roles"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

// heightKey counts committed registry transactions. Every Submit reads and
// writes it, so MVCC validation serialises registry transactions.
const heightKey = "meta/height"

// EventName is the single chaincode event a registry transaction sets.
const EventName = "idledger"

// Contract exposes Submit, Query, Height and Whoami to Fabric clients.
type Contract struct {
	contractapi.Contract
	machine      ledger.Applier
	genesisAdmin id.Principal
	logger       *slog.Logger
}

// NewContract serves machine over the world state. Only genesisAdmin may
// submit the bootstrap transaction; a zero genesisAdmin disables bootstrap.
func NewContract(machine ledger.Applier, genesisAdmin id.Principal, logger *slog.Logger) *Contract {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Contract{machine: machine, genesisAdmin: genesisAdmin, logger: logger}
	c.Name = "idledger"
	return c
}

// Submit applies one registry transaction as the invoking identity and
// returns the receipt as JSON. Rule violations are returned as
// "<code>: <message>" so clients can recover the domain code.
func (c *Contract) Submit(ctx contractapi.TransactionContextInterface, txType string, payload string) (string, error) {
	stub := ctx.GetStub()
	caller, err := callerOf(ctx)
	if err != nil {
		return "", err
	}
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return "", fmt.Errorf("read transaction timestamp: %w", err)
	}
	if !json.Valid([]byte(payload)) {
		return "", encodeError(dErrors.New(dErrors.CodeInvalidInput, "payload is not valid JSON"))
	}
	if ledger.TxType(txType) == roles.TxBootstrap && (c.genesisAdmin.IsZero() || caller != c.genesisAdmin) {
		c.logger.Warn("bootstrap refused",
			"tx_id", stub.GetTxID(),
			"caller", caller,
		)
		return "", encodeError(dErrors.New(dErrors.CodeUnauthorized, "caller is not the configured genesis admin"))
	}

	tx := ledger.Tx{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("fabric:"+stub.GetTxID())),
		Type:      ledger.TxType(txType),
		Caller:    caller,
		Payload:   json.RawMessage(payload),
		Timestamp: ts.AsTime().UTC(),
	}

	rctx := context.Background()
	ws := worldState{stub: stub}
	height, err := ws.height(rctx)
	if err != nil {
		return "", err
	}
	overlay := ledger.NewOverlay(ws)
	outcome, err := c.machine.Apply(rctx, overlay, tx)
	if err != nil {
		c.logger.Info("transaction rejected",
			"tx_id", stub.GetTxID(),
			"type", txType,
			"caller", caller,
			"code", dErrors.CodeOf(err),
		)
		return "", encodeError(err)
	}

	for _, w := range overlay.Writes() {
		if err := stub.PutState(string(w.Key), w.Value); err != nil {
			return "", fmt.Errorf("put %s: %w", w.Key, err)
		}
	}
	height++
	if err := stub.PutState(heightKey, []byte(strconv.FormatUint(height, 10))); err != nil {
		return "", fmt.Errorf("put height: %w", err)
	}

	receipt := ledger.Receipt{
		TxID:        tx.ID,
		Height:      height,
		CommittedAt: tx.Timestamp,
		Keys:        overlay.Keys(),
		Result:      outcome.Result,
		Events:      outcome.Events,
	}
	if len(outcome.Events) > 0 {
		events, err := json.Marshal(outcome.Events)
		if err != nil {
			return "", fmt.Errorf("encode events: %w", err)
		}
		if err := stub.SetEvent(EventName, events); err != nil {
			return "", fmt.Errorf("set event: %w", err)
		}
	}
	out, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	return string(out), nil
}

// Query returns the raw value at key. Absent keys are "not_found".
func (c *Contract) Query(ctx contractapi.TransactionContextInterface, key string) (string, error) {
	v, err := worldState{stub: ctx.GetStub()}.Get(context.Background(), ledger.Key(key))
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", encodeError(dErrors.New(dErrors.CodeNotFound, "key not found"))
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (c *Contract) Height(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return worldState{stub: ctx.GetStub()}.height(context.Background())
}

// Whoami returns the principal the invoking identity acts as. Operators use
// it to learn the value to configure as genesis admin.
func (c *Contract) Whoami(ctx contractapi.TransactionContextInterface) (string, error) {
	p, err := callerOf(ctx)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// Principal derives the registry principal of a Fabric client identity. The
// certificate id is hashed so the principal stays short and opaque.
func Principal(mspID, clientID string) id.Principal {
	sum := sha256.Sum256([]byte(clientID))
	return id.Principal("x509:" + mspID + ":" + hex.EncodeToString(sum[:]))
}

func callerOf(ctx contractapi.TransactionContextInterface) (id.Principal, error) {
	ci := ctx.GetClientIdentity()
	if ci == nil {
		return "", errors.New("no client identity")
	}
	mspID, err := ci.GetMSPID()
	if err != nil {
		return "", fmt.Errorf("read client msp id: %w", err)
	}
	clientID, err := ci.GetID()
	if err != nil {
		return "", fmt.Errorf("read client id: %w", err)
	}
	return id.ParsePrincipal(Principal(mspID, clientID).String())
}

func encodeError(err error) error {
	return fmt.Errorf("%s: %s", dErrors.CodeOf(err), dErrors.MessageOf(err))
}

// worldState adapts the chaincode stub to ledger.State.
type worldState struct {
	stub shim.ChaincodeStubInterface
}

func (w worldState) Get(_ context.Context, key ledger.Key) ([]byte, error) {
	v, err := w.stub.GetState(string(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	if v == nil {
		return nil, sentinel.ErrNotFound
	}
	return v, nil
}

func (w worldState) Put(_ context.Context, key ledger.Key, value []byte) error {
	return w.stub.PutState(string(key), value)
}

func (w worldState) height(ctx context.Context) (uint64, error) {
	raw, err := w.Get(ctx, heightKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt height record: %w", err)
	}
	return h, nil
}
