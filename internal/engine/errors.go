package engine

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeUnsupportedStatus indicates the record's status has no dispatch entry.
	CodeUnsupportedStatus Code = "UNSUPPORTED_STATUS"

	// CodePrecondition indicates a handler is missing metadata a prior state should have written.
	CodePrecondition Code = "PRECONDITION_VIOLATION"

	// CodeAmbiguousReference indicates a cross-record lookup found zero or several matches.
	CodeAmbiguousReference Code = "AMBIGUOUS_REFERENCE"

	// CodeExternal indicates a store or messaging call failed.
	CodeExternal Code = "EXTERNAL_FAILURE"

	// CodeDeferred indicates a handler could not act yet because of incomplete
	// record data; the record is retried every cycle until a human fixes it.
	CodeDeferred Code = "DEFERRED"
)

// Error is a classified failure tied to one record and, when known, one handler.
type Error struct {
	Code     Code
	Message  string
	Table    string
	RecordID string
	TicketID string
	Handler  string
	Details  map[string]string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RecordID != "" {
		msg += fmt.Sprintf(" (table=%s, record=%s", e.Table, e.RecordID)
		if e.Handler != "" {
			msg += ", handler=" + e.Handler
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUnsupportedStatus reports whether err is an unsupported-status error.
func IsUnsupportedStatus(err error) bool { return CodeOf(err) == CodeUnsupportedStatus }

// IsPrecondition reports whether err is a precondition violation.
func IsPrecondition(err error) bool { return CodeOf(err) == CodePrecondition }

// IsAmbiguousReference reports whether err is an ambiguous cross-reference.
func IsAmbiguousReference(err error) bool { return CodeOf(err) == CodeAmbiguousReference }

// IsDeferred reports whether err asks for a retry without being an operator-facing failure.
func IsDeferred(err error) bool { return CodeOf(err) == CodeDeferred }

// NewUnsupportedStatusError reports a status missing from the dispatch table.
func NewUnsupportedStatusError(status any) *Error {
	return &Error{
		Code:    CodeUnsupportedStatus,
		Message: fmt.Sprintf("no dispatch entry for status %#v", status),
	}
}

// NewPreconditionError reports missing prior-state metadata.
func NewPreconditionError(format string, args ...any) *Error {
	return &Error{
		Code:    CodePrecondition,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewAmbiguousReferenceError reports count matches for ticketID in table where exactly one was required.
func NewAmbiguousReferenceError(table, ticketID string, count int) *Error {
	return &Error{
		Code:    CodeAmbiguousReference,
		Message: fmt.Sprintf("expected exactly one %s record for ticket %q, found %d", table, ticketID, count),
		Details: map[string]string{
			"ticket_id": ticketID,
			"count":     fmt.Sprintf("%d", count),
		},
	}
}

// NewDeferredError reports data a human still has to fill in.
func NewDeferredError(format string, args ...any) *Error {
	return &Error{
		Code:    CodeDeferred,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewExternalError wraps a failed store or messaging call.
func NewExternalError(op string, err error) *Error {
	return &Error{
		Code:    CodeExternal,
		Message: op,
		Err:     err,
	}
}
