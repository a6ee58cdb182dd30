package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vango-dev/servermanager/pkg/dispatch"
)

// Kind identifies the transport a session lives on.
type Kind int

const (
	KindHTTP Kind = iota
	KindWebSocket
)

// String returns the transport label used in logs and metrics.
func (k Kind) String() string {
	if k == KindWebSocket {
		return "ws"
	}
	return "http"
}

// ErrUnknownSession is returned for ids that are not registered.
var ErrUnknownSession = errors.New("session: unknown session")

// Conn is a live WebSocket connection that can be evicted.
type Conn interface {
	Close() error
}

// Subscriber is a WebSocket session eligible for a broadcast push.
type Subscriber struct {
	ID   string
	Conn Conn
}

type httpSession struct {
	expires time.Time
	groups  map[string]struct{}
	buffer  *dispatch.Buffer
}

type binding struct {
	conn   Conn
	groups map[string]struct{}
}

// Registry owns every session id. HTTP sessions map to an expiry renewed on
// each access; WebSocket sessions map to the one connection that owns them.
type Registry struct {
	mu   sync.RWMutex
	http map[string]*httpSession
	ws   map[string]*binding

	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	onRelease func(id string, kind Kind)
	onChange  func(kind Kind, n int)
	logger    *slog.Logger

	done        chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets how long an idle HTTP session stays valid.
// Default: 30 minutes.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithCleanupInterval sets how often expired HTTP sessions are swept.
// Default: 30 seconds. Zero disables the sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.cleanupInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a Registry and starts its cleanup loop.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		http:            make(map[string]*httpSession),
		ws:              make(map[string]*binding),
		ttl:             30 * time.Minute,
		cleanupInterval: 30 * time.Second,
		now:             time.Now,
		logger:          slog.Default(),
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session_registry")

	if r.cleanupInterval > 0 {
		go r.cleanupLoop()
	} else {
		close(r.cleanupDone)
	}
	return r
}

// SetOnRelease registers fn to be called whenever an id stops being valid:
// an HTTP session expired or was replaced, or a WebSocket closed.
// fn runs outside the registry lock.
func (r *Registry) SetOnRelease(fn func(id string, kind Kind)) {
	r.mu.Lock()
	r.onRelease = fn
	r.mu.Unlock()
}

// SetOnChange registers fn to be called with the live count of a transport
// after it changes.
func (r *Registry) SetOnChange(fn func(kind Kind, n int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// generateID returns a cryptographically random session id.
func generateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// Validate renews the HTTP session id and returns it. An empty, unknown or
// expired id is replaced by a fresh one; a non-empty stale id is released.
// issued reports whether a new id was created.
func (r *Registry) Validate(id string) (valid string, issued bool) {
	now := r.now()

	r.mu.Lock()
	if sess, ok := r.http[id]; ok && id != "" && now.Before(sess.expires) {
		sess.expires = now.Add(r.ttl)
		r.mu.Unlock()
		return id, false
	}

	stale := false
	if id != "" {
		delete(r.http, id)
		stale = true
	}

	valid = generateID()
	r.http[valid] = &httpSession{
		expires: now.Add(r.ttl),
		groups:  make(map[string]struct{}),
		buffer:  dispatch.NewBuffer(),
	}
	n := len(r.http)
	release, change := r.onRelease, r.onChange
	r.mu.Unlock()

	if stale {
		r.logger.Debug("session reissued", "old_id", id, "session_id", valid)
		if release != nil {
			release(id, KindHTTP)
		}
	}
	if change != nil {
		change(KindHTTP, n)
	}
	return valid, true
}

// Buffer returns the response buffer of an HTTP session, or nil.
func (r *Registry) Buffer(id string) *dispatch.Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sess, ok := r.http[id]; ok {
		return sess.buffer
	}
	return nil
}

// Bind assigns conn to id. An empty id is replaced by a fresh one. If id is
// bound to a different connection, that connection is returned as evicted
// and the caller must close it. The new binding starts with no groups.
func (r *Registry) Bind(id string, conn Conn) (bound string, evicted Conn) {
	if id == "" {
		id = generateID()
	}

	r.mu.Lock()
	if prev, ok := r.ws[id]; ok {
		if prev.conn == conn {
			r.mu.Unlock()
			return id, nil
		}
		evicted = prev.conn
	}
	r.ws[id] = &binding{conn: conn, groups: make(map[string]struct{})}
	n := len(r.ws)
	change := r.onChange
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Info("websocket session evicted by newer connection", "session_id", id)
	}
	if change != nil {
		change(KindWebSocket, n)
	}
	return id, evicted
}

// Unbind removes the binding of id if conn still owns it and notifies
// release. It reports whether the binding was removed.
func (r *Registry) Unbind(id string, conn Conn) bool {
	r.mu.Lock()
	b, ok := r.ws[id]
	if !ok || b.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.ws, id)
	n := len(r.ws)
	release, change := r.onRelease, r.onChange
	r.mu.Unlock()

	if release != nil {
		release(id, KindWebSocket)
	}
	if change != nil {
		change(KindWebSocket, n)
	}
	return true
}

// Conn returns the connection bound to id.
func (r *Registry) Conn(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.ws[id]; ok {
		return b.conn, true
	}
	return nil, false
}

// AddGroup records that session id belongs to group.
func (r *Registry) AddGroup(id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.ws[id]; ok {
		b.groups[group] = struct{}{}
		return nil
	}
	if sess, ok := r.http[id]; ok {
		sess.groups[group] = struct{}{}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownSession, id)
}

// InGroup reports whether session id belongs to group. The empty group
// matches every live session.
func (r *Registry) InGroup(id, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var groups map[string]struct{}
	if b, ok := r.ws[id]; ok {
		groups = b.groups
	} else if sess, ok := r.http[id]; ok {
		groups = sess.groups
	} else {
		return false
	}
	if group == "" {
		return true
	}
	_, ok := groups[group]
	return ok
}

// HTTPMembers returns the live HTTP session ids in group, sorted. The empty
// group returns every live HTTP session.
func (r *Registry) HTTPMembers(group string) []string {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, sess := range r.http {
		if !now.Before(sess.expires) {
			continue
		}
		if group != "" {
			if _, ok := sess.groups[group]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribers returns the WebSocket sessions in group. The empty group
// returns every bound connection.
func (r *Registry) Subscribers(group string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []Subscriber
	for id, b := range r.ws {
		if group != "" {
			if _, ok := b.groups[group]; !ok {
				continue
			}
		}
		subs = append(subs, Subscriber{ID: id, Conn: b.conn})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

// Alive reports whether id is a live session on either transport.
func (r *Registry) Alive(id string) bool {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ws[id]; ok {
		return true
	}
	sess, ok := r.http[id]
	return ok && now.Before(sess.expires)
}

// Count returns the number of registered sessions of kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == KindWebSocket {
		return len(r.ws)
	}
	return len(r.http)
}

// Release revokes an HTTP session immediately.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	if _, ok := r.http[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.http, id)
	n := len(r.http)
	release, change := r.onRelease, r.onChange
	r.mu.Unlock()

	if release != nil {
		release(id, KindHTTP)
	}
	if change != nil {
		change(KindHTTP, n)
	}
	return true
}

// cleanupLoop periodically removes expired HTTP sessions.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanupExpired()
		case <-r.done:
			return
		}
	}
}

// cleanupExpired removes HTTP sessions past their expiry and notifies
// release for each.
func (r *Registry) cleanupExpired() int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, sess := range r.http {
		if !now.Before(sess.expires) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.http, id)
	}
	remaining := len(r.http)
	release, change := r.onRelease, r.onChange
	r.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	if release != nil {
		for _, id := range expired {
			release(id, KindHTTP)
		}
	}
	if change != nil {
		change(KindHTTP, remaining)
	}
	r.logger.Info("cleaned up expired sessions",
		"count", len(expired),
		"remaining", remaining)
	return len(expired)
}

// Close stops the cleanup loop. Bound connections are left to their
// transports.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	<-r.cleanupDone
}
