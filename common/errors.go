package common

import (
	"errors"
	"fmt"
	"time"
)

// Class groups errors by what the caller should do about them
type Class string

const (
	// ClassCredential errors are caller-fixable input problems; never retried
	ClassCredential Class = "credential"

	// ClassProtocol errors are rejections of a state transition by the ledger
	ClassProtocol Class = "protocol"

	// ClassTransport errors are relayer or network faults; retryable with backoff
	ClassTransport Class = "transport"

	// ClassRelayer errors are relayer-local conditions reported by a reachable relayer
	ClassRelayer Class = "relayer"

	// ClassPersistence errors are credential storage failures; always fatal
	ClassPersistence Class = "persistence"

	// ClassUnknown is reported for errors outside the taxonomy
	ClassUnknown Class = "unknown"
)

// Error is a classified error; the sentinels below are the complete taxonomy
type Error struct {
	Class   Class
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(class Class, code, msg string) *Error {
	return &Error{
		Class:   class,
		Code:    code,
		Message: msg,
	}
}

// credential errors
var (
	ErrMalformedHex       = newError(ClassCredential, "malformed_hex", "malformed hex")
	ErrInvalidLength      = newError(ClassCredential, "invalid_length", "invalid length")
	ErrCommitmentMismatch = newError(ClassCredential, "commitment_mismatch", "secret and nullifier do not hash to the given commitment")
	ErrMalformedRecipient = newError(ClassCredential, "malformed_recipient", "malformed recipient address")
	ErrEntropy            = newError(ClassCredential, "entropy", "insufficient entropy")
	ErrMalformedExport    = newError(ClassCredential, "malformed_export", "malformed credential export")
)

// protocol-state errors
var (
	ErrUnknownCommitment   = newError(ClassProtocol, "unknown_commitment", "unknown commitment")
	ErrAlreadyWithdrawn    = newError(ClassProtocol, "already_withdrawn", "deposit already withdrawn")
	ErrTooEarly            = newError(ClassProtocol, "too_early", "withdrawal delay has not elapsed")
	ErrNullifierReused     = newError(ClassProtocol, "nullifier_reused", "nullifier already consumed")
	ErrCommitmentCollision = newError(ClassProtocol, "commitment_collision", "commitment already deposited")
	ErrInsufficientAmount  = newError(ClassProtocol, "insufficient_amount", "deposit amount below minimum")
	ErrDelayOutOfRange     = newError(ClassProtocol, "delay_out_of_range", "withdrawal delay out of supported range")
	ErrInsufficientFunds   = newError(ClassProtocol, "insufficient_funds", "insufficient funds")
	ErrInvalidSignature    = newError(ClassProtocol, "invalid_signature", "invalid transaction signature")
)

// transport errors
var (
	ErrRelayerUnreachable = newError(ClassTransport, "unreachable", "relayer unreachable")
	ErrRelayerTimeout     = newError(ClassTransport, "timeout", "relayer timed out")
	ErrMalformedResponse  = newError(ClassTransport, "malformed_response", "malformed relayer response")
	ErrLedgerUnavailable  = newError(ClassTransport, "ledger_unavailable", "ledger unavailable")
)

// relayer-local errors
var (
	ErrRelayerUnavailable = newError(ClassRelayer, "unavailable", "relayer service unavailable")
	ErrMalformedRequest   = newError(ClassRelayer, "malformed_request", "malformed relay request")
	ErrRelayerInternal    = newError(ClassRelayer, "internal", "relayer internal fault")
)

// persistence errors
var (
	ErrPersistence        = newError(ClassPersistence, "persistence", "credential persistence failed")
	ErrCredentialNotFound = newError(ClassPersistence, "credential_not_found", "credential not found")
	ErrCredentialConflict = newError(ClassPersistence, "credential_conflict", "conflicting credential already stored for commitment")
)

var taxonomy = []*Error{
	ErrMalformedHex, ErrInvalidLength, ErrCommitmentMismatch, ErrMalformedRecipient, ErrEntropy, ErrMalformedExport,
	ErrUnknownCommitment, ErrAlreadyWithdrawn, ErrTooEarly, ErrNullifierReused, ErrCommitmentCollision,
	ErrInsufficientAmount, ErrDelayOutOfRange, ErrInsufficientFunds, ErrInvalidSignature,
	ErrRelayerUnreachable, ErrRelayerTimeout, ErrMalformedResponse, ErrLedgerUnavailable,
	ErrRelayerUnavailable, ErrMalformedRequest, ErrRelayerInternal,
	ErrPersistence, ErrCredentialNotFound, ErrCredentialConflict,
}

// TooEarlyError reports how long a caller must wait before the withdrawal is eligible
type TooEarlyError struct {
	EligibleAt time.Time
	Remaining  time.Duration
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("%s; eligible in %s", ErrTooEarly.Message, e.Remaining)
}

func (e *TooEarlyError) Unwrap() error {
	return ErrTooEarly
}

// ErrorForCode resolves the sentinel for a wire code, or nil when the code is unknown
func ErrorForCode(code string) *Error {
	for _, e := range taxonomy {
		if e.Code == code {
			return e
		}
	}
	return nil
}

// ClassOf returns the class of the given error, surviving any wrapping
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassUnknown
}

// CodeOf returns the wire code of the given error, or an empty string outside the taxonomy
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable is true for transport errors only
func Retryable(err error) bool {
	return ClassOf(err) == ClassTransport
}

// RemainingWait extracts the remaining delay from a too-early error
func RemainingWait(err error) (time.Duration, bool) {
	var e *TooEarlyError
	if errors.As(err, &e) {
		return e.Remaining, true
	}
	return 0, false
}
