// Package pgerr carries the seven error kinds this driver core raises
// (§7), plus the machinery to build one either locally (a Go-side
// invariant failure) or by parsing the field-coded payload of a wire
// ErrorResponse/NoticeResponse. It is the client-side mirror of the
// teacher's errors package: that package decorates an error so the
// *server* can serialise it onto the wire (errors.Flatten + error.go's
// ErrorCode writer); this one decodes the same field vocabulary in the
// other direction, off messages the *client* receives.
package pgerr

import (
	"errors"
	"fmt"

	"github.com/pgexec/pgproto/codes"
)

// Kind is one of the seven error kinds enumerated in §7.
type Kind string

const (
	ConnectionFailure     Kind = "CONNECTION_FAILURE"
	ProtocolViolation     Kind = "PROTOCOL_VIOLATION"
	ObjectNotInState      Kind = "OBJECT_NOT_IN_STATE"
	InvalidParameterValue Kind = "INVALID_PARAMETER_VALUE"
	CommunicationError    Kind = "COMMUNICATION_ERROR"
	NotImplemented        Kind = "NOT_IMPLEMENTED"
	OutOfMemory           Kind = "OUT_OF_MEMORY"
)

// Severity mirrors the teacher's errors.Severity: ERROR, FATAL, PANIC for
// error messages; WARNING, NOTICE, DEBUG, INFO, LOG for notices.
type Severity string

const (
	LevelError   Severity = "ERROR"
	LevelFatal   Severity = "FATAL"
	LevelPanic   Severity = "PANIC"
	LevelWarning Severity = "WARNING"
	LevelNotice  Severity = "NOTICE"
	LevelDebug   Severity = "DEBUG"
	LevelInfo    Severity = "INFO"
	LevelLog     Severity = "LOG"
)

// wire field codes, from the same table the teacher's error.go writes
// (https://www.postgresql.org/docs/current/protocol-error-fields.html),
// now read rather than written.
const (
	FieldSeverity       byte = 'S'
	FieldSQLState       byte = 'C'
	FieldMsgPrimary      byte = 'M'
	FieldDetail         byte = 'D'
	FieldHint           byte = 'H'
	FieldConstraintName byte = 'n'
)

// Error is a client-observed protocol or invariant failure.
type Error struct {
	Kind           Kind
	Code           codes.Code
	Severity       Severity
	Message        string
	Detail         string
	Hint           string
	ConstraintName string
	ConnID         string
	cause          error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a locally-raised Error (no wire ErrorResponse involved,
// e.g. a bind-size overflow or a COPY lock misuse).
func New(kind Kind, code codes.Code, cause error) *Error {
	if cause == nil {
		cause = errors.New(string(kind))
	}

	return &Error{
		Kind:     kind,
		Code:     code,
		Severity: LevelError,
		Message:  cause.Error(),
		cause:    cause,
	}
}

// Wrap constructs a locally-raised Error from a formatted message.
func Wrap(kind Kind, format string, args ...any) *Error {
	return New(kind, codes.Uncategorized, fmt.Errorf(format, args...))
}

// FromFields builds an Error from the field-coded payload of a wire
// ErrorResponse or NoticeResponse message (§6, "Fields of
// ErrorResponse"). kind classifies how the caller should treat it; the
// raw SQLSTATE/severity/detail/hint are carried through unmodified.
func FromFields(kind Kind, fields map[byte]string) *Error {
	e := &Error{
		Kind:           kind,
		Code:           codes.Code(fields[FieldSQLState]),
		Severity:       Severity(fields[FieldSeverity]),
		Message:        fields[FieldMsgPrimary],
		Detail:         fields[FieldDetail],
		Hint:           fields[FieldHint],
		ConstraintName: fields[FieldConstraintName],
	}
	e.cause = errors.New(e.Message)
	if e.Severity == "" {
		e.Severity = LevelError
	}

	return e
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// List accumulates errors observed within one Sync window (§7:
// "errors are collected and chained rather than raised immediately").
// Only List.Err's first entry is ever surfaced to the caller; the rest
// remain reachable by unwrapping or by calling All.
type List struct {
	errs []error
}

// Add appends err to the list. A nil err is a no-op.
func (l *List) Add(err error) {
	if err == nil {
		return
	}

	l.errs = append(l.errs, err)
}

// Empty reports whether no error has been collected.
func (l *List) Empty() bool { return len(l.errs) == 0 }

// All returns every collected error, in arrival order.
func (l *List) All() []error { return l.errs }

// Err returns the first collected error, chained to the rest via Unwrap,
// or nil if none were collected.
func (l *List) Err() error {
	if len(l.errs) == 0 {
		return nil
	}

	if len(l.errs) == 1 {
		return l.errs[0]
	}

	return &chain{first: l.errs[0], rest: l.errs[1:]}
}

// chain exposes every remaining error in All() through repeated Unwrap,
// while Error() reports only the first — matching the "surface the first,
// keep the rest chained" policy in §7.
type chain struct {
	first error
	rest  []error
}

func (c *chain) Error() string { return c.first.Error() }
func (c *chain) Unwrap() error {
	if len(c.rest) == 0 {
		return nil
	}

	if len(c.rest) == 1 {
		return c.rest[0]
	}

	return &chain{first: c.rest[0], rest: c.rest[1:]}
}
