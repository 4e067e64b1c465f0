package consumer

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent is returned when the submitted text is blank.
	ErrEmptyContent = errors.New("content is empty")

	// ErrBusy is returned when an action needs an idle session.
	ErrBusy = errors.New("a translation is in progress")

	// ErrCanceled is returned by Translate when its request was superseded.
	ErrCanceled = errors.New("translation canceled")

	// ErrClosed is returned by every action on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrUnknownDirection is returned for directions the relay does not serve.
	ErrUnknownDirection = errors.New("unknown direction")
)

// TransportError reports a failure talking to the relay: the request could
// not be sent, the relay answered with a non-2xx status, or reading the
// stream failed. Its message is shown to the user.
type TransportError struct {
	// Op is "request" or "read".
	Op string

	// StatusCode is set when the relay answered with a non-2xx status.
	StatusCode int

	// Detail is the relay's error message, when it sent one.
	Detail string

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return e.Op + " failed"
}

func (e *TransportError) Unwrap() error { return e.Err }
