package composite

import (
	"errors"
	"fmt"
)

// Code is the error taxonomy from spec.md §7, carried on every CoreError
// the package returns. It plays the role the teacher's sentinel Err* vars
// play in usb.go, but as a closed enum so callers can switch on it instead
// of chaining errors.Is against a dozen package vars.
type Code int

const (
	CodeInvalidArgs Code = iota
	CodeBufferTooSmall
	CodeNoMemory
	CodeIO
	CodeAlreadyBound
	CodeBadState
	CodeTimedOut
	CodeInternal
	CodeNotSupported
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgs:
		return "invalid_args"
	case CodeBufferTooSmall:
		return "buffer_too_small"
	case CodeNoMemory:
		return "no_memory"
	case CodeIO:
		return "io"
	case CodeAlreadyBound:
		return "already_bound"
	case CodeBadState:
		return "bad_state"
	case CodeTimedOut:
		return "timed_out"
	case CodeInternal:
		return "internal"
	case CodeNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// CoreError wraps an operation name and underlying cause with one of the
// Codes above, the way the teacher wraps usbfs errno values into ErrIO /
// ErrTimeout in usb.go.
type CoreError struct {
	Code Code
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *CoreError) Unwrap() error { return e.Err }

func newError(code Code, op string, err error) error {
	return &CoreError{Code: code, Op: op, Err: err}
}

// NewInvalidArgsError, NewBufferTooSmallError, and NewUnsupportedError let
// other packages in this module (ioctlsurface) construct
// CoreErrors with the right Code without reaching into composite's
// unexported constructor.
func NewInvalidArgsError(op string, err error) error    { return newError(CodeInvalidArgs, op, err) }
func NewBufferTooSmallError(op string, err error) error { return newError(CodeBufferTooSmall, op, err) }
func NewUnsupportedError(op string, err error) error    { return newError(CodeNotSupported, op, err) }

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *CoreError, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
