package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu     sync.Mutex
	writes [][]Section
	err    error
	before func()
}

func (b *recordingBackend) VerifySchema(context.Context) error        { return nil }
func (b *recordingBackend) ReadAll(context.Context) ([]Section, error) { return nil, nil }
func (b *recordingBackend) Close() error                              { return nil }

func (b *recordingBackend) WriteAll(_ context.Context, sections []Section) error {
	if b.before != nil {
		b.before()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, sections)
	return nil
}

func (b *recordingBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

func TestStore_InitIsIdempotent(t *testing.T) {
	s := NewStore()
	if err := s.Init("settings", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Init("settings", map[string]any{"a": 2}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, ok := s.Get("settings")
	if !ok {
		t.Fatal("Get() ok = false after Init")
	}
	if !reflect.DeepEqual(got, map[string]any{"a": 1}) {
		t.Fatalf("Get() = %v, want first default", got)
	}
	if s.Altered() {
		t.Fatal("Init marked the store altered")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()
	if v, ok := s.Get("missing"); ok || v != nil {
		t.Fatalf("Get(missing) = (%v, %v), want (nil, false)", v, ok)
	}
}

func TestStore_SetMergesMaps(t *testing.T) {
	s := NewStore()
	_ = s.Set("s", map[string]any{"a": 1}, false)
	_ = s.Set("s", map[string]any{"b": 2}, false)

	got, _ := s.Get("s")
	want := map[string]any{"a": 1, "b": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %v, want %v", got, want)
	}
}

func TestStore_SetDeleteNull(t *testing.T) {
	s := NewStore()
	_ = s.Set("s", map[string]any{"a": 1, "b": 2}, false)

	_ = s.Set("s", map[string]any{"a": nil}, false)
	got, _ := s.Get("s")
	if m := got.(map[string]any); len(m) != 2 || m["a"] != nil {
		t.Fatalf("nil without deleteNull: Get() = %v, want a=nil kept", got)
	}

	_ = s.Set("s", map[string]any{"a": nil}, true)
	got, _ = s.Get("s")
	want := map[string]any{"b": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %v, want %v", got, want)
	}
}

func TestStore_SetReplacesNonMaps(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		patch any
	}{
		{"scalar", "hello"},
		{"number", 42.0},
		{"slice", []any{1, 2, 3}},
		{"time", now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			_ = s.Set("s", map[string]any{"a": 1}, false)
			_ = s.Set("s", tt.patch, false)

			got, _ := s.Get("s")
			if !reflect.DeepEqual(got, tt.patch) {
				t.Fatalf("Get() = %v, want %v", got, tt.patch)
			}
		})
	}
}

func TestStore_SetMapOverScalarReplaces(t *testing.T) {
	s := NewStore()
	_ = s.Set("s", "text", false)
	_ = s.Set("s", map[string]any{"a": 1}, false)

	got, _ := s.Get("s")
	if !reflect.DeepEqual(got, map[string]any{"a": 1}) {
		t.Fatalf("Get() = %v, want map", got)
	}
}

func TestStore_GetResultIsStable(t *testing.T) {
	s := NewStore()
	_ = s.Set("s", map[string]any{"a": 1}, false)
	before, _ := s.Get("s")

	_ = s.Set("s", map[string]any{"b": 2}, false)
	if _, ok := before.(map[string]any)["b"]; ok {
		t.Fatal("map returned by Get was mutated by a later Set")
	}
}

func TestStore_SetRequiresName(t *testing.T) {
	s := NewStore()
	if err := s.Set("", 1, false); !errors.Is(err, ErrNoSection) {
		t.Fatalf("Set(\"\") error = %v, want ErrNoSection", err)
	}
	if err := s.Init("", 1); !errors.Is(err, ErrNoSection) {
		t.Fatalf("Init(\"\") error = %v, want ErrNoSection", err)
	}
}

func TestStore_SetMarksDirty(t *testing.T) {
	s := NewStore()
	_ = s.Init("a", 1)
	_ = s.Init("b", 2)
	_ = s.Set("a", 3, false)

	if !s.Altered() {
		t.Fatal("Altered() = false after Set")
	}
	if !s.SectionAltered("a") || s.SectionAltered("b") {
		t.Fatalf("SectionAltered a=%v b=%v, want true/false", s.SectionAltered("a"), s.SectionAltered("b"))
	}
}

func TestStore_FlushSkipsWhenClean(t *testing.T) {
	s := NewStore()
	_ = s.Init("a", 1)
	backend := &recordingBackend{}

	hookCalls := 0
	wrote, err := s.Flush(context.Background(), backend, func() { hookCalls++ })
	if err != nil || wrote {
		t.Fatalf("Flush() = (%v, %v), want (false, nil)", wrote, err)
	}
	if hookCalls != 1 {
		t.Fatalf("hook calls = %d, want 1", hookCalls)
	}
	if backend.writeCount() != 0 {
		t.Fatal("backend written while store was clean")
	}
}

func TestStore_FlushHookCanDirtyStore(t *testing.T) {
	s := NewStore()
	backend := &recordingBackend{}

	wrote, err := s.Flush(context.Background(), backend, func() {
		_ = s.Set("late", "value", false)
	})
	if err != nil || !wrote {
		t.Fatalf("Flush() = (%v, %v), want (true, nil)", wrote, err)
	}
	if s.Altered() {
		t.Fatal("store still altered after successful flush")
	}
}

func TestStore_FlushWritesFullSetAndClears(t *testing.T) {
	s := NewStore()
	_ = s.Init("a", 1)
	_ = s.Set("b", 2, false)
	backend := &recordingBackend{}

	wrote, err := s.Flush(context.Background(), backend, nil)
	if err != nil || !wrote {
		t.Fatalf("Flush() = (%v, %v), want (true, nil)", wrote, err)
	}
	if len(backend.writes[0]) != 2 {
		t.Fatalf("written sections = %d, want 2 (full set)", len(backend.writes[0]))
	}
	if s.Altered() || s.SectionAltered("b") {
		t.Fatal("dirty flags not cleared after successful flush")
	}
}

func TestStore_FlushFailureKeepsFlags(t *testing.T) {
	s := NewStore()
	_ = s.Set("a", 1, false)
	backend := &recordingBackend{err: errors.New("disk full")}

	wrote, err := s.Flush(context.Background(), backend, nil)
	if err == nil || wrote {
		t.Fatalf("Flush() = (%v, %v), want (false, error)", wrote, err)
	}
	if !s.Altered() || !s.SectionAltered("a") {
		t.Fatal("dirty flags cleared after failed flush")
	}

	backend.err = nil
	if wrote, err := s.Flush(context.Background(), backend, nil); err != nil || !wrote {
		t.Fatalf("retry Flush() = (%v, %v), want (true, nil)", wrote, err)
	}
	if s.Altered() {
		t.Fatal("store altered after successful retry")
	}
}

func TestStore_MutationDuringFlushStaysDirty(t *testing.T) {
	s := NewStore()
	_ = s.Set("a", 1, false)
	backend := &recordingBackend{}
	backend.before = func() {
		backend.before = nil
		_ = s.Set("a", 2, false)
	}

	if _, err := s.Flush(context.Background(), backend, nil); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !s.Altered() || !s.SectionAltered("a") {
		t.Fatal("section mutated during the write was marked clean")
	}
}

func TestStore_LoadReplacesContent(t *testing.T) {
	s := NewStore()
	_ = s.Set("old", 1, false)
	s.Load([]Section{{Name: "x", Data: "y", ID: "id-1"}})

	if _, ok := s.Get("old"); ok {
		t.Fatal("Load kept a previous section")
	}
	if v, _ := s.Get("x"); v != "y" {
		t.Fatalf("Get(x) = %v, want y", v)
	}
	if s.Altered() {
		t.Fatal("loaded store is altered")
	}
	snap, _ := s.Snapshot()
	if snap[0].ID != "id-1" {
		t.Fatalf("snapshot ID = %q, want id-1", snap[0].ID)
	}
}

func TestStore_FlushLoopRetriesOnTick(t *testing.T) {
	s := NewStore()
	_ = s.Set("a", 1, false)
	backend := &recordingBackend{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan bool, 4)
	go s.FlushLoop(ctx, backend, 10*time.Millisecond, nil, func(wrote bool, err error) {
		if err == nil {
			select {
			case results <- wrote:
			default:
			}
		}
	})

	select {
	case wrote := <-results:
		if !wrote {
			t.Fatal("first tick did not write an altered store")
		}
	case <-time.After(time.Second):
		t.Fatal("flush loop did not tick")
	}
}
