package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNoSection is returned when a cache operation is given an empty section name.
var ErrNoSection = errors.New("cache: section name is required")

// Section is a named cache payload.
type Section struct {
	// Name uniquely identifies the section.
	Name string

	// Data is the payload: a JSON-like value (map[string]any, []any, string,
	// float64, bool, time.Time or nil).
	Data any

	// Altered is set by every mutation and cleared after a successful flush.
	Altered bool

	// ID is an optional backend-assigned identifier.
	ID string
}

type section struct {
	data    any
	altered bool
	id      string
	gen     uint64
}

// Store is the in-process sectioned cache.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sections map[string]*section
	altered  bool
	gen      uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sections: make(map[string]*section)}
}

// Init creates section with def as its payload if it does not exist yet.
// Init does not mark the section as altered.
func (s *Store) Init(name string, def any) error {
	if name == "" {
		return ErrNoSection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sections[name]; !ok {
		s.sections[name] = &section{data: def}
	}
	return nil
}

// Get returns the payload of section and whether the section exists.
// Maps returned by Get are never mutated by the store afterwards.
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.sections[name]
	if !ok {
		return nil, false
	}
	return sec.data, true
}

// Set mutates section.
//
// A map patch applied to an existing map payload is merged key by key; with
// deleteNull set, keys whose patch value is nil are removed instead. Any other
// patch (scalar, slice, time.Time) or a patch for a missing section replaces
// the payload wholesale.
func (s *Store) Set(name string, patch any, deleteNull bool) error {
	if name == "" {
		return ErrNoSection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	sec, ok := s.sections[name]
	if !ok {
		sec = &section{}
		s.sections[name] = sec
	}

	patchMap, patchIsMap := patch.(map[string]any)
	current, currentIsMap := sec.data.(map[string]any)

	if !ok || !patchIsMap || !currentIsMap {
		sec.data = patch
	} else {
		// Copy on write so payloads handed out by Get stay stable.
		merged := make(map[string]any, len(current)+len(patchMap))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range patchMap {
			if deleteNull && v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		sec.data = merged
	}

	sec.altered = true
	sec.gen = s.gen
	s.altered = true
	return nil
}

// Altered reports whether any section changed since the last successful flush.
func (s *Store) Altered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.altered
}

// SectionAltered reports the dirty flag of a single section.
func (s *Store) SectionAltered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[name]
	return ok && sec.altered
}

// Names returns the section names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load replaces the store content with sections read from a backend.
// Loaded sections are clean.
func (s *Store) Load(sections []Section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sections = make(map[string]*section, len(sections))
	for _, sec := range sections {
		s.sections[sec.Name] = &section{data: sec.Data, id: sec.ID}
	}
	s.altered = false
}

// Snapshot returns every section, sorted by name, and the mutation
// generation the snapshot reflects.
func (s *Store) Snapshot() ([]Section, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), s.gen
}

func (s *Store) snapshotLocked() []Section {
	out := make([]Section, 0, len(s.sections))
	for name, sec := range s.sections {
		out = append(out, Section{Name: name, Data: sec.data, Altered: sec.altered, ID: sec.id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// markClean clears the dirty flags of sections not mutated after gen.
func (s *Store) markClean(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.altered = false
	for _, sec := range s.sections {
		if sec.gen <= gen {
			sec.altered = false
		}
		if sec.altered {
			s.altered = true
		}
	}
}

// Flush writes the full section set to backend when the store is altered.
//
// hook, when non-nil, runs first so the application can inject last-moment
// updates. Dirty flags are cleared only after the backend acknowledged the
// write; on error they stay set and the next flush retries every section.
// Flush reports whether a write happened.
func (s *Store) Flush(ctx context.Context, backend Backend, hook func()) (bool, error) {
	if backend == nil {
		return false, nil
	}
	if hook != nil {
		hook()
	}

	s.mu.RLock()
	if !s.altered {
		s.mu.RUnlock()
		return false, nil
	}
	snapshot, gen := s.snapshotLocked(), s.gen
	s.mu.RUnlock()

	if err := backend.WriteAll(ctx, snapshot); err != nil {
		return false, err
	}
	s.markClean(gen)
	return true, nil
}

// FlushLoop flushes the store every interval until ctx is done.
// Every tick result is reported to onFlush; errors never stop the loop.
func (s *Store) FlushLoop(ctx context.Context, backend Backend, interval time.Duration, hook func(), onFlush func(bool, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wrote, err := s.Flush(ctx, backend, hook)
			if onFlush != nil {
				onFlush(wrote, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
