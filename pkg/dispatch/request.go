package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vango-dev/servermanager/pkg/future"
)

// Request is the context handed to the listener for one action. The listener
// must finish it exactly once with Respond, RespondStatus or Terminate;
// later calls are ignored and report false.
type Request struct {
	ctx  context.Context
	call Call
	fut  *future.Future[Response]

	once sync.Once
	done func(status string, err error)
}

// Context returns the dispatch context. It carries the action's trace span.
func (r *Request) Context() context.Context {
	return r.ctx
}

// SessionID returns the session the action arrived on.
func (r *Request) SessionID() string {
	return r.call.SessionID
}

// RequestID returns the client's correlation id.
func (r *Request) RequestID() string {
	return r.call.Action.RequestID
}

// Action returns the action name.
func (r *Request) Action() string {
	return r.call.Action.Action
}

// Protocol returns the transport the action arrived on.
func (r *Request) Protocol() string {
	return r.call.Protocol
}

// RemoteAddr returns the client address as seen by the transport.
func (r *Request) RemoteAddr() string {
	return r.call.RemoteAddr
}

// Parameters returns the raw JSON parameters (an empty object when absent).
func (r *Request) Parameters() json.RawMessage {
	return normalizeParams(r.call.Action.Parameters)
}

// Bind decodes the parameters into v.
func (r *Request) Bind(v any) error {
	if err := json.Unmarshal(r.Parameters(), v); err != nil {
		return fmt.Errorf("dispatch: bind %q parameters: %w", r.Action(), err)
	}
	return nil
}

// Buffer pre-seeds the response for a later dispatch of action with params.
// The entry is also sent to the client as a buffer hint. It is a no-op when
// the transport has no buffer.
func (r *Request) Buffer(action string, params, response any, permanent bool) error {
	if r.call.Buffer == nil {
		return nil
	}
	return r.call.Buffer.Seed(action, params, response, permanent)
}

// Respond resolves the action with StatusOK.
func (r *Request) Respond(data any) bool {
	return r.RespondStatus(StatusOK, data)
}

// RespondStatus resolves the action. A nil data becomes an empty object.
func (r *Request) RespondStatus(status Status, data any) bool {
	if status == "" {
		status = StatusOK
	}
	if data == nil {
		data = map[string]any{}
	}
	won := false
	r.once.Do(func() {
		won = true
		r.done(string(status), nil)
		r.fut.Resolve(Response{Status: status, Data: data})
	})
	return won
}

// Terminate aborts the transport the action arrived on. The action's future
// never resolves.
func (r *Request) Terminate() bool {
	won := false
	r.once.Do(func() {
		won = true
		if r.call.OnTerminate != nil {
			r.call.OnTerminate()
		}
		r.done("terminated", ErrTerminated)
	})
	return won
}

// abandon finishes the request without resolving its future. It consumes
// the once, so a Respond scheduled before a panic is dropped.
func (r *Request) abandon(err error) bool {
	won := false
	r.once.Do(func() {
		won = true
		r.done("panic", err)
	})
	return won
}
