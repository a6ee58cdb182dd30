// Package broadcast queues out-of-band messages for sessions.
//
// HTTP sessions receive matching entries merged into their next poll;
// WebSocket subscribers receive them as an immediate push. An entry with an
// empty group matches every session, otherwise only members of the group.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/metrics"
	"github.com/vango-dev/servermanager/pkg/session"
)

// DefaultTTL applies when Publish is called with a non-positive ttl.
const DefaultTTL = 60 * time.Second

// Directory resolves group membership at publish time.
type Directory interface {
	HTTPMembers(group string) []string
	Subscribers(group string) []session.Subscriber
}

// Pusher writes a frame to a WebSocket subscriber.
type Pusher func(sub session.Subscriber, frame dispatch.Frame) error

// entry is a queued broadcast. addressed is nil for entries that match every
// session; delivered tracks sessions that already observed such entries.
type entry struct {
	group     string
	tag       string
	payload   any
	expiresAt time.Time
	addressed map[string]struct{}
	delivered map[string]struct{}
}

// Registry holds pending broadcasts in publish order.
type Registry struct {
	mu    sync.Mutex
	queue *queue.Queue

	dir     Directory
	push    Pusher
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithPusher sets the WebSocket push function.
func WithPusher(p Pusher) Option {
	return func(r *Registry) {
		r.push = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a Registry resolving groups through dir.
func New(dir Directory, opts ...Option) *Registry {
	r := &Registry{
		queue:  queue.New(),
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "broadcast")
	return r
}

// SetPusher replaces the WebSocket push function.
func (r *Registry) SetPusher(p Pusher) {
	r.mu.Lock()
	r.push = p
	r.mu.Unlock()
}

// Publish queues payload under tag for group (empty = every session) until
// ttl elapses, and pushes it to matching WebSocket subscribers right away.
// A group entry addresses the HTTP sessions in the group at publish time.
func (r *Registry) Publish(group, tag string, payload any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	e := &entry{
		group:     group,
		tag:       tag,
		payload:   payload,
		expiresAt: r.now().Add(ttl),
	}
	if group == "" {
		e.delivered = make(map[string]struct{})
	} else {
		members := r.dir.HTTPMembers(group)
		e.addressed = make(map[string]struct{}, len(members))
		for _, id := range members {
			e.addressed[id] = struct{}{}
		}
	}

	r.mu.Lock()
	if e.addressed == nil || len(e.addressed) > 0 {
		r.queue.Add(e)
	}
	push := r.push
	r.mu.Unlock()

	r.metrics.RecordBroadcast()

	if push == nil {
		return
	}
	for _, sub := range r.dir.Subscribers(group) {
		frame := dispatch.Frame{
			RequestID: tag,
			SessionID: sub.ID,
			Status:    dispatch.StatusOK,
			Data:      payload,
		}
		if err := push(sub, frame); err != nil {
			r.logger.Warn("broadcast push failed",
				"session_id", sub.ID,
				"tag", tag,
				"error", err)
		}
	}
}

// Drain returns the non-expired entries addressed to an HTTP session that it
// has not seen yet, keyed by tag. Later entries win on a tag collision.
// Expired and fully delivered entries are dropped during the scan.
func (r *Registry) Drain(sessionID string) map[string]dispatch.Response {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out map[string]dispatch.Response
	n := r.queue.Length()
	for i := 0; i < n; i++ {
		e := r.queue.Remove().(*entry)
		if !now.Before(e.expiresAt) {
			continue
		}

		matched := false
		if e.addressed != nil {
			if _, ok := e.addressed[sessionID]; ok {
				delete(e.addressed, sessionID)
				matched = true
			}
		} else if _, seen := e.delivered[sessionID]; !seen {
			e.delivered[sessionID] = struct{}{}
			matched = true
		}

		if matched {
			if out == nil {
				out = make(map[string]dispatch.Response)
			}
			out[e.tag] = dispatch.Response{Status: dispatch.StatusOK, Data: e.payload}
		}

		if e.addressed != nil && len(e.addressed) == 0 {
			continue
		}
		r.queue.Add(e)
	}
	return out
}

// Len returns the number of queued entries, expired ones included until the
// next scan.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Length()
}
