// Package ferr implements the error taxonomy from spec.md §7: ConfigError,
// ConnectionError, TimeoutError, ProtocolError, TransactionError, and
// SystemError, each carrying a machine-readable code. Handlers in
// internal/pipeline distinguish TransactionError (a clean decline) from
// everything else (a 96 response) with errors.As.
package ferr

import (
	"errors"
	"fmt"
)

// Kind distinguishes the five error taxonomies plus SystemError.
type Kind string

const (
	KindConfig      Kind = "CONFIG"
	KindConnection  Kind = "CONNECTION"
	KindTimeout     Kind = "TIMEOUT"
	KindProtocol    Kind = "PROTOCOL"
	KindTransaction Kind = "TRANSACTION"
	KindSystem      Kind = "SYSTEM"
)

// Error is the common shape for every taxonomy member.
type Error struct {
	Kind         Kind
	Code         string // e.g. NOT_CONNECTED, REQUEST_TIMEOUT, or an ISO response code
	ResponseCode string // set only for TransactionError: the ISO 8583-style response code
	Message      string
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// Config-layer errors: invalid/missing configuration entities. Never
// swallowed; propagated to the caller of load() or a runtime register call.
func Config(code, msg string, cause error) *Error { return newErr(KindConfig, code, msg, cause) }

// Connection- and protocol-layer error codes, spec.md §7.
const (
	CodeNotConnected        = "NOT_CONNECTED"
	CodePeerClosed          = "PEER_CLOSED"
	CodeTLSHandshake        = "TLS_HANDSHAKE"
	CodeBackpressure        = "BACKPRESSURE"
	CodeDuplicateCorrelation = "DUPLICATE_CORRELATION"
	CodeCancelled           = "CANCELLED"
)

func Connection(code, msg string, cause error) *Error {
	return newErr(KindConnection, code, msg, cause)
}

// Timeout-layer error codes, spec.md §7.
const (
	CodeRequestTimeout = "REQUEST_TIMEOUT"
	CodeHeartbeatLost  = "HEARTBEAT_LOST"
)

func Timeout(code, msg string) *Error { return newErr(KindTimeout, code, msg, nil) }

// Protocol errors: duplicate correlation, decoding failures.
func Protocol(code, msg string, cause error) *Error {
	return newErr(KindProtocol, code, msg, cause)
}

// Transaction is a business decline. ResponseCode is the ISO 8583-style code
// the pipeline uses to build the declined response (spec.md §7).
func Transaction(responseCode, reasonCode, msg string) *Error {
	return &Error{Kind: KindTransaction, Code: reasonCode, ResponseCode: responseCode, Message: msg}
}

// System wraps an unexpected failure escaping a handler or processor; the
// pipeline converts it to a "96" response after AUDIT runs (spec.md §7).
func System(msg string, cause error) *Error {
	return &Error{Kind: KindSystem, Code: "SYSTEM_MALFUNCTION", ResponseCode: "96", Message: msg, Cause: cause}
}

// AsTransaction reports whether err is (or wraps) a TransactionError and
// returns it.
func AsTransaction(err error) (*Error, bool) {
	var fe *Error
	if !errors.As(err, &fe) {
		return nil, false
	}
	return fe, fe.Kind == KindTransaction
}
