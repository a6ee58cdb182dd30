package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/servermanager/pkg/accesslog"
	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/future"
	"github.com/vango-dev/servermanager/pkg/session"
)

// wsConn is one WebSocket connection. Writes are serialized; Close is
// idempotent and safe from any goroutine.
type wsConn struct {
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration
	buffer       *dispatch.Buffer

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn *websocket.Conn, remote string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		remote:       remote,
		writeTimeout: writeTimeout,
		buffer:       dispatch.NewBuffer(),
		closed:       make(chan struct{}),
	}
}

// Close terminates the connection.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

func (c *wsConn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *wsConn) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Push writes a broadcast frame to a subscriber's connection.
func (s *Server) Push(sub session.Subscriber, frame dispatch.Frame) error {
	c, ok := sub.Conn.(*wsConn)
	if !ok {
		return ErrNotWebSocket
	}
	return c.writeJSON(frame)
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// handleWebSocket upgrades the request and runs the read loop until the
// connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	info := infoFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		info.err = err.Error()
		return
	}
	// The upgrade response bypasses the wrapped writer; connection events
	// are logged by the read loop instead.
	info.skip = true

	c := newWSConn(conn, info.remote, s.config.WriteTimeout)
	if !s.track(c) {
		c.Close()
		return
	}
	defer s.untrack(c)

	conn.SetReadLimit(s.config.MessageSizeLimit)
	s.readLoop(r, c)
}

// readLoop dispatches one action per frame. Invalid frames terminate the
// connection.
func (s *Server) readLoop(r *http.Request, c *wsConn) {
	defer func() {
		c.Close()
		if id := c.SessionID(); id != "" {
			s.sessions.Unbind(id, c)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		start := time.Now()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.logEvent(r, c, "message-too-large", start, 0, err)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				s.logger.Debug("websocket closed unexpectedly", "session_id", c.SessionID(), "error", err)
			}
			return
		}

		var action dispatch.Action
		if err := json.Unmarshal(data, &action); err != nil {
			s.logEvent(r, c, "error", start, len(data), err)
			return
		}
		if err := action.Validate(); err != nil {
			status := "missing-action"
			if errors.Is(err, dispatch.ErrMissingRequestID) {
				status = "missing-requestId"
			}
			s.logEvent(r, c, status, start, len(data), err)
			return
		}

		sessionID := c.SessionID()
		if sessionID == "" {
			bound, evicted := s.sessions.Bind(action.SessionID, c)
			if evicted != nil {
				evicted.Close()
			}
			c.setSessionID(bound)
			sessionID = bound
		}

		fut := s.dispatcher.Dispatch(r.Context(), dispatch.Call{
			Protocol:    dispatch.ProtocolWebSocket,
			SessionID:   sessionID,
			Action:      action,
			RemoteAddr:  c.remote,
			InputLength: len(data),
			Buffer:      c.buffer,
			OnTerminate: func() { c.Close() },
		})
		go s.reply(c, sessionID, action.RequestID, fut)
	}
}

// reply writes the action's response once it resolves. It gives up when
// the connection closes first.
func (s *Server) reply(c *wsConn, sessionID, requestID string, fut *future.Future[dispatch.Response]) {
	select {
	case <-fut.Done():
	case <-c.closed:
		return
	}

	resp, err, _ := fut.Result()
	if err != nil {
		return
	}
	frame := dispatch.Frame{
		RequestID: requestID,
		SessionID: sessionID,
		Status:    resp.Status,
		Data:      resp.Data,
		Buffer:    c.buffer.Snapshot(),
	}
	if err := c.writeJSON(frame); err != nil && !errors.Is(err, ErrConnectionClosed) {
		s.logger.Debug("websocket write failed", "session_id", sessionID, "request_id", requestID, "error", err)
	}
}

func (s *Server) logEvent(r *http.Request, c *wsConn, status string, start time.Time, input int, err error) {
	e := accesslog.Entry{
		Protocol:   dispatch.ProtocolWebSocket,
		Status:     status,
		Duration:   time.Since(start),
		RemoteAddr: c.remote,
		Input:      input,
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.access.Record(r.Context(), e)
}
