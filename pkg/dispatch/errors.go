package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated is reported to observers when a listener terminates the
	// transport instead of responding.
	ErrTerminated = errors.New("dispatch: terminated by listener")
)

// ListenerError wraps a panic raised by the listener.
type ListenerError struct {
	SessionID string
	RequestID string
	Action    string
	Panic     any
	Stack     []byte
}

// Error returns the error message.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("dispatch: listener panic in session %s, request %s, action %s: %v",
		e.SessionID, e.RequestID, e.Action, e.Panic)
}
