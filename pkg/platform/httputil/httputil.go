// Package httputil writes JSON responses and maps domain error codes to
// HTTP statuses.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "idledger/pkg/domain-errors"
)

// MaxBodyBytes bounds request bodies decoded by DecodeAndPrepare.
const MaxBodyBytes = 1 << 20

// RetryAfterSeconds is advertised when the ledger could not be reached.
const RetryAfterSeconds = "2"

type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": code, "error_description": message}.
// Internal errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	resp := ErrorResponse{Error: string(code)}
	if status != http.StatusInternalServerError {
		resp.ErrorDescription = dErrors.MessageOf(err)
	}
	if code == dErrors.CodeGatewayUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	WriteJSON(w, status, resp)
}

func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeUnauthorized, dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeAlreadyRegistered, dErrors.CodeDuplicateIdentity,
		dErrors.CodeAlreadyIssued, dErrors.CodeAlreadyRevoked, dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeInvalidInput, dErrors.CodeInvalidTarget, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteUnauthenticated answers a request with a missing or invalid bearer
// token. It is distinct from CodeUnauthorized, which means the caller is
// known but lacks the role.
func WriteUnauthenticated(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="idledger"`)
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:            "unauthenticated",
		ErrorDescription: description,
	})
}

// Validatable request bodies normalise and check themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON body into T and validates it. On failure
// it writes the error response and returns ok=false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := PT(new(T))
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return (*T)(req), true
}
