// Package apperr defines the error taxonomy shared by every ledger operation.
//
// Every failure carries a Kind (the broad retryability class) and a stable
// machine-readable Code. Callers retry Conflict and Storage with backoff and
// never retry Validation, InvalidState or Forbidden.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
	KindValidation
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation_failure"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Stable error codes surfaced to callers.
const (
	CodeGroupNotFound          = "group_not_found"
	CodeExpenseNotFound        = "expense_not_found"
	CodeMemberNotFound         = "member_not_found"
	CodeNotMember              = "not_a_member"
	CodeNotGroupMember         = "not_a_group_member"
	CodeAlreadyMember          = "already_a_member"
	CodeAdminRequired          = "admin_required"
	CodeCreatorRequired        = "creator_required"
	CodeAuthRequired           = "authentication_required"
	CodeExpenseAlreadySettled  = "expense_already_settled"
	CodeAlreadySettled         = "already_settled"
	CodeUnsettledExpensesExist = "unsettled_expenses_exist"
	CodeGroupInactive          = "group_inactive"
	CodeShareMismatch          = "share_mismatch"
	CodeEmptyParticipantSet    = "empty_participant_set"
	CodeInvalidAmount          = "invalid_amount"
	CodeInvalidCurrency        = "invalid_currency"
	CodeInvalidSplitPolicy     = "invalid_split_policy"
	CodeInvalidArgument        = "invalid_argument"
	CodeGroupBusy              = "group_busy"
	CodeStorage                = "storage_failure"
)

// Error is the concrete error type returned by ledger operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error with a kind, stable code and human-readable message.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause, typically a store error.
func Wrap(kind Kind, code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return New(KindForbidden, code, format, args...)
}

func InvalidState(code, format string, args ...any) *Error {
	return New(KindInvalidState, code, format, args...)
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

func Storage(cause error, format string, args ...any) *Error {
	return Wrap(KindStorage, CodeStorage, cause, format, args...)
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable code of err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given stable code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
