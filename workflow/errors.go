package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies where a workflow step failed.
type Kind int

const (
	// KindTransport is a network or connection failure.
	KindTransport Kind = iota + 1
	// KindHTTP is a non-2xx response.
	KindHTTP
	// KindApplication is a 2xx response reporting failure or missing data.
	KindApplication
	// KindValidation is a missing required user input; no request was sent.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindApplication:
		return "application"
	case KindValidation:
		return "validation"
	}
	return "unknown"
}

// Error is returned by workflow operations. Message is safe to show to users.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrBusy is returned while a generation batch or a publish is in flight.
var ErrBusy = errors.New("another operation is already in progress")

// ErrCompleted is returned when the work was already done and the page is
// moving on: a batch that ended with a redirect or a finished publish.
var ErrCompleted = errors.New("operation already completed")

// ErrDisabled is returned when the interface was disabled by a failed load.
var ErrDisabled = errors.New("interface disabled")

// KindOf returns the Kind of err, or 0 when err is not a workflow Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage returns the user-facing text of err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func validationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}
