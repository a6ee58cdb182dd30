package dispatch

import (
	"encoding/json"
	"errors"
)

// Status is the outcome reported to the client for one action.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Protocol names used in calls, logs and metrics.
const (
	ProtocolHTTP      = "http"
	ProtocolHTTPS     = "https"
	ProtocolWebSocket = "ws"
)

// Action is one client action. Over WebSocket the frame is an Action carrying
// its own SessionID; over HTTP the session id lives on the Envelope.
type Action struct {
	RequestID  string          `json:"requestId"`
	Action     string          `json:"action"`
	SessionID  string          `json:"sessionId,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Envelope is an HTTP POST batch.
type Envelope struct {
	SessionID string   `json:"sessionId,omitempty"`
	Actions   []Action `json:"actions"`
}

// Response is the resolved value of one action.
type Response struct {
	Status Status `json:"status"`
	Data   any    `json:"data"`
}

// BatchResponse is the HTTP reply to an Envelope. Responses is keyed by
// request id; broadcasts are merged in keyed by their tag.
type BatchResponse struct {
	SessionID string                 `json:"sessionId"`
	Responses map[string]Response    `json:"responses"`
	Buffer    map[string]BufferEntry `json:"buffer,omitempty"`
}

// Frame is a WebSocket reply or broadcast push.
type Frame struct {
	RequestID string                 `json:"requestId"`
	SessionID string                 `json:"sessionId"`
	Status    Status                 `json:"status"`
	Data      any                    `json:"data"`
	Buffer    map[string]BufferEntry `json:"buffer,omitempty"`
}

var (
	// ErrMissingRequestID is returned when an action has no request id.
	ErrMissingRequestID = errors.New("dispatch: missing requestId")

	// ErrMissingAction is returned when an action has no action name.
	ErrMissingAction = errors.New("dispatch: missing action")
)

// Validate checks the fields every action must carry.
func (a Action) Validate() error {
	if a.RequestID == "" {
		return ErrMissingRequestID
	}
	if a.Action == "" {
		return ErrMissingAction
	}
	return nil
}
