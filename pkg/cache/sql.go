package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders, pragma_table_info).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
	// DialectMySQL uses MySQL syntax (? placeholders, REPLACE INTO).
	DialectMySQL
)

// ParseDialect maps a driver name to a dialect.
func ParseDialect(driver string) SQLDialect {
	switch strings.ToLower(driver) {
	case "postgres", "pgx", "postgresql":
		return DialectPostgreSQL
	case "mysql":
		return DialectMySQL
	default:
		return DialectSQLite
	}
}

// SQLBackend stores one row per section in a relational table.
// Requires a table with schema:
//
//	CREATE TABLE cache (
//	    section VARCHAR(255) NOT NULL PRIMARY KEY,
//	    data    TEXT
//	);
//
// VerifySchema creates the table when it is missing.
// The *sql.DB is owned by the caller and is not closed by the backend.
type SQLBackend struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
}

// SQLBackendOption configures SQLBackend behavior.
type SQLBackendOption func(*SQLBackend)

// WithSQLTableName sets the cache table name.
// Default: "cache".
func WithSQLTableName(name string) SQLBackendOption {
	return func(b *SQLBackend) {
		b.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLBackendOption {
	return func(b *SQLBackend) {
		b.dialect = dialect
	}
}

// NewSQLBackend creates a SQL-backed cache backend.
func NewSQLBackend(db *sql.DB, opts ...SQLBackendOption) *SQLBackend {
	b := &SQLBackend{
		db:        db,
		tableName: "cache",
		dialect:   DialectSQLite,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SQLBackend) placeholder(n int) string {
	if b.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// VerifySchema creates the cache table if missing, otherwise checks that the
// required columns exist.
func (b *SQLBackend) VerifySchema(ctx context.Context) error {
	columns, err := TableColumns(ctx, b.db, b.dialect, b.tableName)
	if err != nil {
		return backendError("sql", "verify", err)
	}

	if len(columns) == 0 {
		query := fmt.Sprintf(
			"CREATE TABLE %s (section VARCHAR(255) NOT NULL PRIMARY KEY, data TEXT)",
			b.tableName)
		if _, err := b.db.ExecContext(ctx, query); err != nil {
			return backendError("sql", "create table", err)
		}
		return nil
	}

	for _, required := range []string{"section", "data"} {
		if !columns[required] {
			return backendError("sql", "verify",
				fmt.Errorf("%w: column %q was not found in table %q", ErrSchemaMismatch, required, b.tableName))
		}
	}
	return nil
}

// ReadAll returns every row of the cache table.
func (b *SQLBackend) ReadAll(ctx context.Context) ([]Section, error) {
	query := fmt.Sprintf("SELECT section, data FROM %s ORDER BY section", b.tableName)
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, backendError("sql", "read", err)
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var (
			name string
			raw  sql.NullString
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, backendError("sql", "scan", err)
		}

		var data any
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
				return nil, backendError("sql", "decode", fmt.Errorf("section %q: %w", name, err))
			}
		}
		sections = append(sections, Section{Name: name, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("sql", "read", err)
	}
	return sections, nil
}

// WriteAll upserts every section in a single transaction.
func (b *SQLBackend) WriteAll(ctx context.Context, sections []Section) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return backendError("sql", "begin", err)
	}
	defer tx.Rollback()

	query := b.upsertQuery()
	for _, sec := range sections {
		raw, err := json.Marshal(sec.Data)
		if err != nil {
			return backendError("sql", "encode", fmt.Errorf("section %q: %w", sec.Name, err))
		}
		if _, err := tx.ExecContext(ctx, query, sec.Name, string(raw)); err != nil {
			return backendError("sql", "write", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backendError("sql", "commit", err)
	}
	return nil
}

func (b *SQLBackend) upsertQuery() string {
	switch b.dialect {
	case DialectMySQL:
		return fmt.Sprintf("REPLACE INTO %s (section, data) VALUES (?, ?)", b.tableName)
	default:
		return fmt.Sprintf(
			"INSERT INTO %s (section, data) VALUES (%s, %s) ON CONFLICT (section) DO UPDATE SET data = excluded.data",
			b.tableName, b.placeholder(1), b.placeholder(2))
	}
}

// Close is a no-op; the database handle belongs to the caller.
func (b *SQLBackend) Close() error {
	return nil
}

// TableColumns returns the lower-cased column names of table, or an empty
// set when the table does not exist.
func TableColumns(ctx context.Context, db *sql.DB, dialect SQLDialect, table string) (map[string]bool, error) {
	var (
		query string
		args  []any
	)
	switch dialect {
	case DialectPostgreSQL:
		query = "SELECT column_name FROM information_schema.columns WHERE table_name = $1"
		args = []any{table}
	case DialectMySQL:
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?"
		args = []any{table}
	default:
		query = "SELECT name FROM pragma_table_info(?)"
		args = []any{table}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns[strings.ToLower(name)] = true
	}
	return columns, rows.Err()
}
