// Package watch polls files for modification and reports changes.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 250 * time.Millisecond

// Op describes what happened to a watched path.
type Op int

const (
	OpModified Op = iota
	OpCreated
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpRemoved:
		return "removed"
	default:
		return "modified"
	}
}

// Change is a detected file change.
type Change struct {
	Path string
	Op   Op
}

// Config configures a Watcher.
type Config struct {
	// Paths are files or directories to watch. Directories are walked.
	Paths []string

	// Ignore lists base names or globs to skip.
	Ignore []string

	// Interval is the polling period.
	Interval time.Duration
}

// DefaultIgnore contains patterns skipped when Config.Ignore is empty.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher reports changes to watched files by comparing modification times.
type Watcher struct {
	config     Config
	mu         sync.Mutex
	onChange   func([]Change)
	running    bool
	stopCh     chan struct{}
	timestamps map[string]time.Time
}

// New creates a watcher.
func New(config Config) *Watcher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	return &Watcher{
		config:     config,
		timestamps: make(map[string]time.Time),
	}
}

// OnChange sets the callback invoked with each non-empty batch of changes.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start records the initial state and polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stop := w.stopCh
	w.mu.Unlock()

	w.mu.Lock()
	w.timestamps = w.scan()
	w.mu.Unlock()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.markStopped(stop)
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

func (w *Watcher) markStopped(stop chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.stopCh == stop {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning returns whether the watcher is polling.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Poll compares the current state with the last one and reports changes.
// It returns the changes it found.
func (w *Watcher) Poll() []Change {
	current := w.scan()

	w.mu.Lock()
	var changes []Change
	for p, mod := range current {
		last, ok := w.timestamps[p]
		switch {
		case !ok:
			changes = append(changes, Change{Path: p, Op: OpCreated})
		case !mod.Equal(last):
			changes = append(changes, Change{Path: p, Op: OpModified})
		}
	}
	for p := range w.timestamps {
		if _, ok := current[p]; !ok {
			changes = append(changes, Change{Path: p, Op: OpRemoved})
		}
	}
	w.timestamps = current
	callback := w.onChange
	w.mu.Unlock()

	slices.SortFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Path, b.Path)
	})
	if len(changes) > 0 && callback != nil {
		callback(changes)
	}
	return changes
}

// scan returns the modification time of every watched file.
func (w *Watcher) scan() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, root := range w.config.Paths {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			out[root] = info.ModTime()
			continue
		}
		filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if p != root && w.shouldIgnore(p) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.IsDir() {
				out[p] = info.ModTime()
			}
			return nil
		})
	}
	return out
}

func (w *Watcher) shouldIgnore(p string) bool {
	name := filepath.Base(p)
	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
