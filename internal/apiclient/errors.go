package apiclient

import (
	"errors"
	"fmt"

	"github.com/agis/agenda/internal/contract"
)

// ErrBodyTooLarge is wrapped by the *Error returned for a 2xx body over the
// client's size limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Error is the single failure shape produced by the client. Every failed call
// returns one, whether the cause was the transport, an HTTP status or a
// logical error inside a 2xx body.
type Error struct {
	MessageCode string                 `json:"messageCode"`
	MessageType contract.MessageType   `json:"messageType"`
	StatusCode  int                    `json:"statusCode,omitempty"`
	Details     []contract.FieldDetail `json:"details,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Err         error                  `json:"-"`
}

func newError(code string, status int, msg string, err error) *Error {
	return &Error{
		MessageCode: code,
		MessageType: contract.MessageError,
		StatusCode:  status,
		Message:     msg,
		Err:         err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return "api error"
	}
	var s string
	if e.StatusCode != 0 {
		s = fmt.Sprintf("%s (HTTP %d)", e.MessageCode, e.StatusCode)
	} else {
		s = e.MessageCode
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsError extracts the structured error from err's chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err carries the given message code.
func HasCode(err error, code string) bool {
	ae, ok := AsError(err)
	return ok && ae.MessageCode == code
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	if ae, ok := AsError(err); ok {
		return ae.StatusCode
	}
	return 0
}
