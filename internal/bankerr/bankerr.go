// Package bankerr defines the error taxonomy shared by every ledger operation.
// Each rejection carries a stable Code plus a human readable reason; callers
// compare with errors.Is against the exported sentinels.
package bankerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	InvalidAmount     Code = "invalid_amount"
	InvalidKind       Code = "invalid_kind"
	InsufficientFunds Code = "insufficient_funds"
	AccountNotActive  Code = "account_not_active"
	AccountNotFound   Code = "account_not_found"
	ReceiverNotFound  Code = "receiver_not_found"
	ReceiverNotActive Code = "receiver_not_active"
	SelfTransfer      Code = "self_transfer"
	BadCredential     Code = "bad_credential"
	NotOwner          Code = "not_owner"
	Forbidden         Code = "forbidden"
	InvalidRequest    Code = "invalid_request"
	Duplicate         Code = "duplicate"
	Conflict          Code = "conflict"
	Busy              Code = "busy"
	StoreUnavailable  Code = "store_unavailable"
)

// Error is a classified failure. Two errors match under errors.Is when their
// codes are equal, so wrapped causes never hide the classification.
type Error struct {
	Code   Code
	Reason string
	Field  string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e.Code == Busy || e.Code == StoreUnavailable
}

// New builds an error with the given code and reason.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Wrap classifies cause under code.
func Wrap(code Code, reason string, cause error) *Error {
	return &Error{Code: code, Reason: reason, cause: cause}
}

// Invalid reports a request field that failed validation.
func Invalid(field, reason string) *Error {
	return &Error{Code: InvalidRequest, Reason: reason, Field: field}
}

// CodeOf extracts the code of err, or "" when err is not classified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

var (
	// ErrInvalidAmount is returned when an amount is not strictly positive or
	// carries more than two fractional digits.
	ErrInvalidAmount = New(InvalidAmount, "amount must be a positive value with at most two decimal places")

	// ErrInvalidKind is returned for a posting kind other than credit or debit.
	ErrInvalidKind = New(InvalidKind, "kind must be credit or debit")

	// ErrInsufficientFunds occurs when a debit would take the balance below zero.
	ErrInsufficientFunds = New(InsufficientFunds, "insufficient funds")

	// ErrAccountNotActive is returned when the acting account is frozen or closed.
	ErrAccountNotActive = New(AccountNotActive, "account is not active")

	// ErrAccountNotFound is returned when no account carries the given number.
	ErrAccountNotFound = New(AccountNotFound, "account not found")

	ErrReceiverNotFound  = New(ReceiverNotFound, "receiver account not found")
	ErrReceiverNotActive = New(ReceiverNotActive, "receiver account is not active")
	ErrSelfTransfer      = New(SelfTransfer, "cannot transfer to the same account")

	// ErrBadCredential is returned when the caller did not present a verified
	// authorization for the acting account.
	ErrBadCredential = New(BadCredential, "invalid credential")

	// ErrNotOwner indicates the caller does not own the acting account.
	ErrNotOwner = New(NotOwner, "not owner of account")

	// ErrForbidden indicates the action needs an operator role.
	ErrForbidden = New(Forbidden, "operation requires an operator")

	// ErrDuplicate indicates the client reference was already applied; the
	// accompanying result describes the original posting.
	ErrDuplicate = New(Duplicate, "duplicate transaction")

	ErrConflict = New(Conflict, "conflicting state")

	// ErrBusy is returned when an exclusive scope could not be acquired in time.
	ErrBusy = New(Busy, "account is busy, retry later")

	// ErrStoreUnavailable is returned when the persistence substrate failed.
	ErrStoreUnavailable = New(StoreUnavailable, "store unavailable")
)
