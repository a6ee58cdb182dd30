package manager

import (
	"time"

	"github.com/vango-dev/servermanager/internal/watch"
)

// Reload resets the listener to the default and runs the application's
// Start again. Transports, sessions and the cache are kept.
func (m *Manager) Reload() error {
	m.logger.Info("reloading application")
	m.SetListener(nil)
	if err := m.runApp(); err != nil {
		m.logger.Error("application reload failed", "error", err)
		return err
	}
	m.logger.Info("application reloaded")
	return nil
}

// watchedFiles returns the configured watch paths plus the application's.
func (m *Manager) watchedFiles() []string {
	files := append([]string(nil), m.config.Server.Files...)
	if w, ok := m.app.(Watched); ok {
		files = append(files, w.WatchedFiles()...)
	}
	return files
}

// startWatcher polls the watched files when server.watch is on.
func (m *Manager) startWatcher() {
	if !m.config.Server.Watch {
		return
	}
	files := m.watchedFiles()
	if len(files) == 0 {
		m.logger.Warn("watch enabled without files to watch")
		return
	}

	w := watch.New(watch.Config{Paths: files, Interval: m.watchTick})
	w.OnChange(func(changes []watch.Change) {
		for _, c := range changes {
			m.logger.Debug("file changed", "path", c.Path, "op", c.Op.String())
		}
		m.scheduleReload()
	})

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.watcher = w
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := w.Start(m.ctx); err != nil {
			m.logger.Error("watcher stopped", "error", err)
		}
	}()
	m.logger.Info("watching files", "count", len(files))
}

// scheduleReload coalesces bursts of changes: each call restarts the
// server.watchDelay countdown.
func (m *Manager) scheduleReload() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if m.reloadTimer != nil {
		m.reloadTimer.Stop()
	}
	m.reloadTimer = time.AfterFunc(m.config.WatchDelay(), func() {
		m.Reload()
	})
}
