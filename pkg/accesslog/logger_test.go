package accesslog

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vango-dev/servermanager/pkg/cache"
	"github.com/vango-dev/servermanager/pkg/dispatch"
)

type captureSink struct {
	entries []Entry
	err     error
}

func (s *captureSink) Verify(context.Context) error { return nil }
func (s *captureSink) Write(_ context.Context, e Entry) error {
	s.entries = append(s.entries, e)
	return s.err
}
func (s *captureSink) Close() error { return nil }

func TestLogger_SlowActionWarns(t *testing.T) {
	var logs bytes.Buffer
	sink := &captureSink{}
	l := New(sink, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	l.Record(context.Background(), Entry{Protocol: "http", Status: "200", Action: "fast", Duration: 10 * time.Millisecond})
	if strings.Contains(logs.String(), "slow action") {
		t.Fatalf("fast action logged as slow: %s", logs.String())
	}

	l.Record(context.Background(), Entry{Protocol: "ws", Status: "ok", Action: "report", Duration: 1500 * time.Millisecond})
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "action=report") {
		t.Fatalf("slow action warning missing: %s", out)
	}

	if len(sink.entries) != 2 {
		t.Fatalf("sink got %d entries, want 2", len(sink.entries))
	}
	if got := sink.entries[1].DurationMS; got != 1500 {
		t.Fatalf("DurationMS = %d, want 1500", got)
	}
	if sink.entries[0].Time.IsZero() {
		t.Fatal("Record() did not stamp the entry time")
	}
}

func TestLogger_SinkFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	l := New(&captureSink{err: errors.New("disk full")},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	l.Record(context.Background(), Entry{Protocol: "http", Status: "200"})
	if !strings.Contains(logs.String(), "disk full") {
		t.Fatalf("sink error not logged: %s", logs.String())
	}
}

func TestLogger_NilSinkDiscards(t *testing.T) {
	l := New(nil)
	if err := l.Verify(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Record(context.Background(), Entry{})
}

func TestFromOutcome(t *testing.T) {
	e := FromOutcome(dispatch.Outcome{
		Protocol:    dispatch.ProtocolWebSocket,
		Action:      "echo",
		Status:      "panic",
		RemoteAddr:  "127.0.0.1:5000",
		InputLength: 42,
		Duration:    time.Second,
		Err:         errors.New("boom"),
	})
	if e.Protocol != "ws" || e.Action != "echo" || e.Status != "panic" || e.Input != 42 || e.Error != "boom" {
		t.Fatalf("FromOutcome() = %+v", e)
	}
}

func TestWriterSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	_ = s.Write(context.Background(), Entry{Protocol: "http", Status: "404", Action: "/missing", DurationMS: 3})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["status"] != "404" || rec["action"] != "/missing" || rec["duration"] != 3.0 {
		t.Fatalf("record = %v", rec)
	}
	if _, ok := rec["ip"]; ok {
		t.Fatal("empty fields should be omitted")
	}
}

func TestFileSink_DailyFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	if err := s.Verify(context.Background()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	day1 := time.Date(2024, 3, 9, 23, 59, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Minute)
	for _, ts := range []time.Time{day1, day1, day2} {
		if err := s.Write(context.Background(), Entry{Time: ts, Protocol: "http", Status: "200"}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	countLines := func(name string) int {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer f.Close()
		n := 0
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			n++
		}
		return n
	}
	if got := countLines("2024-03-09.log"); got != 2 {
		t.Fatalf("2024-03-09.log has %d lines, want 2", got)
	}
	if got := countLines("2024-03-10.log"); got != 1 {
		t.Fatalf("2024-03-10.log has %d lines, want 1", got)
	}
}

func TestFileSink_VerifyMissingDir(t *testing.T) {
	if err := NewFileSink(filepath.Join(t.TempDir(), "nope")).Verify(context.Background()); err == nil {
		t.Fatal("Verify() on missing dir error = nil")
	}
}

func TestSQLSink_CreateAndInsert(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLSink(db)
	if err := s.Verify(ctx); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := s.Verify(ctx); err != nil {
		t.Fatalf("second Verify() error = %v", err)
	}

	l := New(s)
	l.Record(ctx, Entry{Protocol: "http", Status: "200", Action: "echo", Duration: 5 * time.Millisecond})
	l.Record(ctx, Entry{Protocol: "ws", Status: "terminated", Error: "dispatch: terminated by listener"})

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	var action sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT action FROM log WHERE protocol = 'ws'").Scan(&action); err != nil {
		t.Fatal(err)
	}
	if action.Valid {
		t.Fatalf("empty action stored as %q, want NULL", action.String)
	}
}

func TestSQLSink_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "CREATE TABLE log (log_id INTEGER PRIMARY KEY, protocol TEXT)"); err != nil {
		t.Fatal(err)
	}
	if err := NewSQLSink(db).Verify(ctx); !errors.Is(err, cache.ErrSchemaMismatch) {
		t.Fatalf("Verify() error = %v, want ErrSchemaMismatch", err)
	}
}
