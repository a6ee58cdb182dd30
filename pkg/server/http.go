package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/future"
)

// handlePost serves one envelope. Every action is dispatched in parallel and
// the reply is written once all of them settled, with pending broadcasts
// for the session merged in.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	info := infoFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MessageSizeLimit))
	if err != nil {
		info.err = err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(w, http.StatusRequestEntityTooLarge)
			return
		}
		abort(w, http.StatusBadRequest)
		return
	}
	info.input = len(body)

	var env dispatch.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		info.err = err.Error()
		abort(w, http.StatusBadRequest)
		return
	}
	if env.Actions == nil {
		info.err = "missing actions"
		abort(w, http.StatusBadRequest)
		return
	}
	names := make([]string, len(env.Actions))
	for i, a := range env.Actions {
		if err := a.Validate(); err != nil {
			info.err = err.Error()
			abort(w, http.StatusBadRequest)
			return
		}
		names[i] = a.Action
	}
	info.action = strings.Join(names, " ")

	sessionID, _ := s.sessions.Validate(env.SessionID)
	buffer := s.sessions.Buffer(sessionID)

	terminated := make(chan struct{})
	var terminateOnce sync.Once
	onTerminate := func() {
		terminateOnce.Do(func() { close(terminated) })
	}

	futures := make([]*future.Future[dispatch.Response], len(env.Actions))
	for i, a := range env.Actions {
		futures[i] = s.dispatcher.Dispatch(r.Context(), dispatch.Call{
			Protocol:    info.protocol,
			SessionID:   sessionID,
			Action:      a,
			RemoteAddr:  info.remote,
			InputLength: len(body),
			Buffer:      buffer,
			OnTerminate: onTerminate,
		})
	}
	all := future.All(futures...)

	select {
	case <-all.Done():
	case <-terminated:
		info.err = dispatch.ErrTerminated.Error()
		w.WriteHeader(http.StatusBadRequest)
		return
	case <-r.Context().Done():
		info.err = r.Context().Err().Error()
		return
	}

	values, err, _ := all.Result()
	if err != nil {
		s.logger.Error("envelope settle failed", "session_id", sessionID, "error", err)
		info.err = err.Error()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	responses := make(map[string]dispatch.Response, len(values))
	for i, v := range values {
		responses[env.Actions[i].RequestID] = v
	}
	for tag, resp := range s.broadcasts.Drain(sessionID) {
		responses[tag] = resp
	}

	out := dispatch.BatchResponse{
		SessionID: sessionID,
		Responses: responses,
	}
	if buffer != nil {
		out.Buffer = buffer.Snapshot()
	}

	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("failed to encode response", "session_id", sessionID, "error", err)
		info.err = err.Error()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
