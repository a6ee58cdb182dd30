package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_PollDetectsModification(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.js")
	writeFile(t, file, "v1")

	w := New(Config{Paths: []string{file}})
	w.timestamps = w.scan()

	touch(t, file, time.Now().Add(time.Hour))
	changes := w.Poll()
	if len(changes) != 1 || changes[0].Path != file || changes[0].Op != OpModified {
		t.Fatalf("Poll() = %+v, want one modification of %s", changes, file)
	}

	if changes := w.Poll(); len(changes) != 0 {
		t.Fatalf("second Poll() = %+v, want none", changes)
	}
}

func TestWatcher_PollDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.swp"), "ignored")

	w := New(Config{Paths: []string{dir}})
	w.timestamps = w.scan()
	if _, ok := w.timestamps[filepath.Join(dir, "b.swp")]; ok {
		t.Fatal("ignored file was scanned")
	}

	created := filepath.Join(dir, "c.txt")
	writeFile(t, created, "c")
	if err := os.Remove(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal(err)
	}

	changes := w.Poll()
	if len(changes) != 2 {
		t.Fatalf("Poll() = %+v, want 2 changes", changes)
	}
	if changes[0].Op != OpRemoved || changes[1].Op != OpCreated || changes[1].Path != created {
		t.Fatalf("Poll() = %+v, want removal of a.txt then creation of c.txt", changes)
	}
}

func TestWatcher_StartReportsChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.js")
	writeFile(t, file, "v1")

	w := New(Config{Paths: []string{file}, Interval: 10 * time.Millisecond})
	got := make(chan []Change, 4)
	w.OnChange(func(c []Change) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	touch(t, file, time.Now().Add(time.Hour))

	select {
	case changes := <-got:
		if changes[0].Path != file {
			t.Fatalf("OnChange() path = %q, want %q", changes[0].Path, file)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}

	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
	if w.IsRunning() {
		t.Fatal("IsRunning() = true after Stop()")
	}
}

func TestOp_String(t *testing.T) {
	if OpCreated.String() != "created" || OpRemoved.String() != "removed" || OpModified.String() != "modified" {
		t.Fatal("unexpected Op strings")
	}
}
