// Package flexerr defines the structured error taxonomy shared by every
// public engine operation; there is no partial success. Failures the
// engine detects itself are returned as *Error. Errors raised by the
// store, and name-interning failures, reach the caller as plain or
// fmt.Errorf-wrapped errors rather than *Error, and Is does not unwrap
// them.
package flexerr

import "fmt"

// Kind enumerates the coarse error categories a public operation can fail with.
type Kind string

const (
	KindParseError             Kind = "ParseError"
	KindInvalidName            Kind = "InvalidName"
	KindUnknownType            Kind = "UnknownType"
	KindInvalidProp            Kind = "InvalidProp"
	KindDropMissing            Kind = "DropMissing"
	KindRenameMissing          Kind = "RenameMissing"
	KindIncompatibleTypeChange Kind = "IncompatibleTypeChange"
	KindMixinConflict          Kind = "MixinConflict"
	KindConstraintViolation    Kind = "ConstraintViolation"
	KindNotFound               Kind = "NotFound"
	KindAlreadyExists          Kind = "AlreadyExists"
	KindCancelled              Kind = "Cancelled"
	KindSubstrateError         Kind = "SubstrateError"
	KindOutOfMemory            Kind = "OutOfMemory"
)

// Code is the coarse code the callable surface maps a Kind onto (§7).
type Code string

const (
	CodeConstraint Code = "constraint"
	CodeMisuse     Code = "misuse"
	CodeGeneric    Code = "error"
)

// MapCode implements the §7 mapping: ConstraintViolation -> constraint,
// NotFound|AlreadyExists -> misuse, everything else -> generic error.
func (k Kind) MapCode() Code {
	switch k {
	case KindConstraintViolation:
		return CodeConstraint
	case KindNotFound, KindAlreadyExists:
		return CodeMisuse
	default:
		return CodeGeneric
	}
}

// Error is the single structured error type every public operation returns.
// ClassName, PropName and ObjectID are populated where applicable; zero
// values mean "not applicable to this error".
type Error struct {
	Kind    Kind
	Message string

	ClassName string
	PropName  string
	ObjectID  int64

	// Reason is the offending-constraint explanation for ConstraintViolation.
	Reason string

	// Wrapped is the underlying cause, if any (substrate I/O errors, etc.).
	Wrapped error
}

func (e *Error) Error() string {
	loc := ""
	switch {
	case e.ClassName != "" && e.PropName != "" && e.ObjectID != 0:
		loc = fmt.Sprintf(" (class=%s prop=%s object=%d)", e.ClassName, e.PropName, e.ObjectID)
	case e.ClassName != "" && e.PropName != "":
		loc = fmt.Sprintf(" (class=%s prop=%s)", e.ClassName, e.PropName)
	case e.ClassName != "":
		loc = fmt.Sprintf(" (class=%s)", e.ClassName)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Kind, e.Message, loc, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, e.Message, loc)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether err is a *Error with the given Kind. It supports
// errors.Is(err, flexerr.Kind(...)) style checks via a dedicated helper
// since Kind is not itself an error.
func Is(err error, k Kind) bool {
	fe, ok := err.(*Error)
	return ok && fe != nil && fe.Kind == k
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: cause}
}

// WithClass returns a copy of e annotated with the offending class name.
func (e *Error) WithClass(name string) *Error {
	c := *e
	c.ClassName = name
	return &c
}

// WithProp returns a copy of e annotated with the offending property name.
func (e *Error) WithProp(name string) *Error {
	c := *e
	c.PropName = name
	return &c
}

// WithObject returns a copy of e annotated with the offending object id and reason.
func (e *Error) WithObject(id int64, reason string) *Error {
	c := *e
	c.ObjectID = id
	c.Reason = reason
	return &c
}
