package transcription

import (
	"fmt"

	"github.com/pkg/errors"
)

// Failure kinds. Match with errors.Is.
var (
	ErrMissingAPIKey     = errors.New("missing API key")
	ErrUnsupportedInput  = errors.New("unsupported input")
	ErrTransport         = errors.New("transport failure")
	ErrRemoteStatus      = errors.New("remote returned an error status")
	ErrEmptyResponse     = errors.New("empty response")
	ErrMalformedResponse = errors.New("response is not valid JSON")
	ErrSchemaViolation   = errors.New("response does not match schema")
)

// Error is the single failure type returned by the processor.
type Error struct {
	Op         string
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
