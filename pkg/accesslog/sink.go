package accesslog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vango-dev/servermanager/pkg/cache"
)

// Sink persists access-log entries.
type Sink interface {
	// Verify prepares the destination. A failure is fatal at startup.
	Verify(ctx context.Context) error
	Write(ctx context.Context, e Entry) error
	Close() error
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Verify(context.Context) error       { return nil }
func (Discard) Write(context.Context, Entry) error { return nil }
func (Discard) Close() error                       { return nil }

// WriterSink writes entries as JSON log records through slog.
type WriterSink struct {
	logger *slog.Logger
}

// NewWriterSink creates a sink writing JSON lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// NewStdoutSink writes to standard output.
func NewStdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout)
}

func (s *WriterSink) Verify(context.Context) error { return nil }

func (s *WriterSink) Write(ctx context.Context, e Entry) error {
	attrs := []slog.Attr{
		slog.String("protocol", e.Protocol),
		slog.String("status", e.Status),
		slog.Int64("duration", e.DurationMS),
	}
	if e.Action != "" {
		attrs = append(attrs, slog.String("action", e.Action))
	}
	if e.Method != "" {
		attrs = append(attrs, slog.String("method", e.Method))
	}
	if e.RemoteAddr != "" {
		attrs = append(attrs, slog.String("ip", e.RemoteAddr))
	}
	if e.Input > 0 {
		attrs = append(attrs, slog.Int("input", e.Input))
	}
	if e.Output > 0 {
		attrs = append(attrs, slog.Int("output", e.Output))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "access", attrs...)
	return nil
}

func (s *WriterSink) Close() error { return nil }

// FileSink appends JSON lines to one file per day, named YYYY-MM-DD.log.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Verify checks that dir exists and is a directory.
func (s *FileSink) Verify(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("accesslog: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("accesslog: %s is not a directory", s.dir)
	}
	return nil
}

// FileName returns the log file used for entries written at t.
func (s *FileSink) FileName(t time.Time) string {
	return filepath.Join(s.dir, t.Format("2006-01-02")+".log")
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("accesslog: encode: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.FileName(e.Time), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("accesslog: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("accesslog: %w", err)
	}
	return f.Close()
}

func (s *FileSink) Close() error { return nil }

// SQLSink inserts entries into a relational log table.
// Requires a table with schema:
//
//	CREATE TABLE log (
//	    log_id    INTEGER PRIMARY KEY,
//	    timestamp TIMESTAMP,
//	    protocol  VARCHAR(20),
//	    status    VARCHAR(50),
//	    duration  INT,
//	    action    VARCHAR(255),
//	    method    VARCHAR(50),
//	    ip        VARCHAR(40),
//	    input     INT,
//	    output    INT,
//	    error     TEXT
//	);
//
// Verify creates the table when it is missing.
type SQLSink struct {
	db        *sql.DB
	tableName string
	dialect   cache.SQLDialect
}

// SQLSinkOption configures SQLSink behavior.
type SQLSinkOption func(*SQLSink)

// WithSQLTableName sets the log table name.
// Default: "log".
func WithSQLTableName(name string) SQLSinkOption {
	return func(s *SQLSink) {
		s.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: cache.DialectSQLite.
func WithSQLDialect(dialect cache.SQLDialect) SQLSinkOption {
	return func(s *SQLSink) {
		s.dialect = dialect
	}
}

// NewSQLSink creates a sink over db. The caller owns db.
func NewSQLSink(db *sql.DB, opts ...SQLSinkOption) *SQLSink {
	s := &SQLSink{db: db, tableName: "log", dialect: cache.DialectSQLite}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var logColumns = []string{
	"timestamp", "protocol", "status", "duration", "action",
	"method", "ip", "input", "output", "error",
}

func (s *SQLSink) Verify(ctx context.Context) error {
	columns, err := cache.TableColumns(ctx, s.db, s.dialect, s.tableName)
	if err != nil {
		return fmt.Errorf("accesslog: verify: %w", err)
	}

	if len(columns) == 0 {
		idColumn := "log_id INTEGER PRIMARY KEY"
		switch s.dialect {
		case cache.DialectMySQL:
			idColumn = "log_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
		case cache.DialectPostgreSQL:
			idColumn = "log_id BIGSERIAL PRIMARY KEY"
		}
		query := fmt.Sprintf(`CREATE TABLE %s (
			%s,
			timestamp TIMESTAMP,
			protocol VARCHAR(20),
			status VARCHAR(50),
			duration INT,
			action VARCHAR(255),
			method VARCHAR(50),
			ip VARCHAR(40),
			input INT,
			output INT,
			error TEXT
		)`, s.tableName, idColumn)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("accesslog: create table: %w", err)
		}
		return nil
	}

	for _, required := range logColumns {
		if !columns[required] {
			return fmt.Errorf("accesslog: %w: column %q was not found in table %q",
				cache.ErrSchemaMismatch, required, s.tableName)
		}
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	args := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	if s.dialect == cache.DialectPostgreSQL {
		args = "$1, $2, $3, $4, $5, $6, $7, $8, $9, $10"
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (timestamp, protocol, status, duration, action, method, ip, input, output, error) VALUES (%s)",
		s.tableName, args)

	_, err := s.db.ExecContext(ctx, query,
		e.Time.UTC(), e.Protocol, e.Status, e.DurationMS,
		nullString(e.Action), nullString(e.Method), nullString(e.RemoteAddr),
		e.Input, e.Output, nullString(e.Error))
	if err != nil {
		return fmt.Errorf("accesslog: insert: %w", err)
	}
	return nil
}

func (s *SQLSink) Close() error { return nil }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
