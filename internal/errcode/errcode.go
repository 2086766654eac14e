// Package errcode defines the stable error codes surfaced by the lighting
// core and its bridge adapter.
package errcode

import "errors"

// Code is a stable, bridge-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                 Code = "ok"
	HardwareNotReady   Code = "hardware_not_ready"
	MeasurementFailure Code = "measurement_failure"
	PersistenceFailure Code = "persistence_failure"
	InvalidAttribute   Code = "invalid_attribute"
	NotImplemented     Code = "not_implemented"
	Busy               Code = "busy"

	Error Code = "error" // generic fallback
)

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

// New builds an *E.
func New(c Code, op, msg string, err error) *E {
	return &E{C: c, Op: op, Msg: msg, Err: err}
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}
