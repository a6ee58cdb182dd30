package manager

import (
	"strings"
	"sync"
)

// State is the set of readiness signals received so far.
type State uint8

const (
	// StateData is set once the application database answered.
	StateData State = 1 << iota
	// StateCache is set once the cache is materialized from its backend.
	StateCache
	// StateLog is set once the access-log sink is ready.
	StateLog
	// StateWeb is set once the transports listen. It requires StateLog.
	StateWeb

	// StateLoaded is every signal.
	StateLoaded = StateData | StateCache | StateLog | StateWeb
)

// Has reports whether every flag in f is set.
func (s State) Has(f State) bool {
	return s&f == f
}

// Loaded reports whether all signals were received.
func (s State) Loaded() bool {
	return s.Has(StateLoaded)
}

func (s State) String() string {
	if s == 0 {
		return "unloaded"
	}
	if s.Loaded() {
		return "loaded"
	}
	var parts []string
	for _, f := range []struct {
		flag State
		name string
	}{
		{StateData, "data"},
		{StateCache, "cache"},
		{StateLog, "log"},
		{StateWeb, "web"},
	} {
		if s.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// readiness accumulates signals. onEnter runs for every newly set flag and
// onLoaded runs exactly once, after the last flag was entered. Callbacks run
// outside the lock on the signaling goroutine, so an onEnter may signal
// again.
type readiness struct {
	mu       sync.Mutex
	state    State
	fired    bool
	onEnter  func(State)
	onLoaded func()
}

// signal sets flag. It reports false when the flag was already set or when
// StateWeb arrives before StateLog.
func (r *readiness) signal(flag State) bool {
	r.mu.Lock()
	if r.state.Has(flag) || (flag == StateWeb && !r.state.Has(StateLog)) {
		r.mu.Unlock()
		return false
	}
	r.state |= flag
	enter := r.onEnter
	r.mu.Unlock()

	if enter != nil {
		enter(flag)
	}

	r.mu.Lock()
	fire := r.state.Loaded() && !r.fired
	if fire {
		r.fired = true
	}
	loaded := r.onLoaded
	r.mu.Unlock()

	if fire && loaded != nil {
		loaded()
	}
	return true
}

func (r *readiness) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
