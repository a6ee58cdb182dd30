package manager

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/vango-dev/servermanager/internal/config"
	"github.com/vango-dev/servermanager/pkg/cache"
	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/session"
)

// SetListener installs the action handler for both transports. A nil
// listener restores the default, which answers every action with an empty
// object.
func (m *Manager) SetListener(fn dispatch.Listener) {
	m.dispatcher.SetListener(fn)
}

// Broadcast publishes payload under tag to group (empty = every session).
// HTTP sessions receive it on their next poll until ttl elapses (ttl <= 0
// uses the default); WebSocket sessions receive it immediately.
func (m *Manager) Broadcast(group, tag string, payload any, ttl time.Duration) {
	m.broadcasts.Publish(group, tag, payload, ttl)
}

// AddUserGroup adds session id to group.
func (m *Manager) AddUserGroup(sessionID, group string) error {
	return m.sessions.AddGroup(sessionID, group)
}

// OnSessionRelease registers fn for sessions that expire, are replaced or
// whose WebSocket closes.
func (m *Manager) OnSessionRelease(fn func(id string, kind session.Kind)) {
	m.sessions.SetOnRelease(fn)
}

// InitCache creates section with def unless it was loaded from the backend.
func (m *Manager) InitCache(section string, def any) error {
	return m.store.Init(section, def)
}

// Cache returns the payload of section.
func (m *Manager) Cache(section string) (any, bool) {
	return m.store.Get(section)
}

// SetCache merges patch into section and marks it for the next flush.
func (m *Manager) SetCache(section string, patch any, deleteNull bool) error {
	return m.store.Set(section, patch, deleteNull)
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Config returns the configuration.
func (m *Manager) Config() *config.Config {
	return m.config
}

// State returns the readiness signals received so far.
func (m *Manager) State() State {
	return m.ready.current()
}

// Store returns the cache store.
func (m *Manager) Store() *cache.Store {
	return m.store
}

// Sessions returns the session registry.
func (m *Manager) Sessions() *session.Registry {
	return m.sessions
}

// Addr returns the bound listen address, or nil before StateWeb.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Addr()
}

// Ready blocks until the manager is loaded or ctx is done.
func (m *Manager) Ready(ctx context.Context) error {
	_, err := m.started.Await(ctx)
	return err
}
