// Package apierr implements the §7 error taxonomy: component-level error
// kinds convert at the HTTP boundary into one envelope, and onto one close
// frame kind at the websocket boundary.
package apierr

import (
	"encoding/json"
	"net/http"
	"time"
)

// Kind is one of the taxonomy buckets from spec §7.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindInvalidTimestamp Kind = "invalid_timestamp"
	KindInvalidExpiry    Kind = "invalid_expiry"
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidSignature Kind = "invalid_signature"
	KindPublisherError   Kind = "publisher_error"
	KindNotFound         Kind = "not_found"
	KindRoutingError     Kind = "routing_error"
	KindUpstream         Kind = "upstream_error"
	KindRateLimited      Kind = "rate_limited"
	KindLocked           Kind = "locked"
	KindInternal         Kind = "internal"
)

// Error is the typed error carried through components before conversion.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a typed Error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusCode maps a Kind onto the §6 status codes table.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest, KindInvalidTimestamp, KindInvalidExpiry:
		return http.StatusBadRequest
	case KindUnauthorized, KindInvalidSignature, KindPublisherError:
		return http.StatusUnauthorized
	case KindNotFound, KindRoutingError:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusForbidden
	case KindLocked:
		return http.StatusLocked
	case KindUpstream, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// envelope is the HTTP wire shape from spec §6: `{ resource, message, happened_at }`.
type envelope struct {
	Resource   string `json:"resource"`
	Message    string `json:"message"`
	HappenedAt int64  `json:"happened_at"`
}

// WriteHTTP renders err as the §6 status-coded JSON envelope. Any error not
// already an *Error is treated as KindInternal, matching the "errors are
// propagated as typed values; panics are not used for flow control" rule.
func WriteHTTP(w http.ResponseWriter, resource string, err error) {
	kind := KindInternal
	msg := err.Error()
	if e, ok := err.(*Error); ok {
		kind = e.Kind
		msg = e.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.StatusCode())
	_ = json.NewEncoder(w).Encode(envelope{
		Resource:   resource,
		Message:    msg,
		HappenedAt: time.Now().UnixMilli(),
	})
}

// WSEnvelope is the websocket error frame shape from spec §6:
// `{ status: "error", error: string, timestamp_ms }`.
type WSEnvelope struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// NewWSError builds the websocket error frame payload for err.
func NewWSError(err error) WSEnvelope {
	return WSEnvelope{
		Status:      "error",
		Error:       err.Error(),
		TimestampMs: time.Now().UnixMilli(),
	}
}
