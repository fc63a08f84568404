// Package requestlog persists one row per NER dispatch (cache hits,
// endpoint calls and failures) to SQLite or Postgres for the admin API.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is one dispatch event.
type Entry struct {
	ID           int64     `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Model        string    `json:"model"`
	Outcome      string    `json:"outcome"`
	CacheHit     bool      `json:"cache_hit"`
	Fingerprint  string    `json:"fingerprint"`
	TextLength   int       `json:"text_length"`
	Entities     int       `json:"entities"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List.
type Query struct {
	Limit   int
	Offset  int
	Model   string
	Outcome string
	Since   *time.Time
}

// ListResult is a page of entries, newest first, plus the filtered total.
type ListResult struct {
	Data   []Entry `json:"data"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// MaintenanceQuery selects entries to delete.
type MaintenanceQuery struct {
	Before *time.Time
	Model  string
}

// Writer persists request log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists persisted entries.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
}

// Maintainer deletes persisted entries.
type Maintainer interface {
	Delete(ctx context.Context, q MaintenanceQuery) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

const (
	defaultLimit = 50
	maxLimit     = 500
)

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// Open returns a writer for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*SQLWriter, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteWriter(dsn)
	case "postgres":
		return NewPostgresWriter(dsn)
	default:
		return nil, fmt.Errorf("unsupported request log driver %q", driver)
	}
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "nervis-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent dispatches.
	db.SetMaxOpenConns(1)
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS dispatch_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	model TEXT NOT NULL,
	outcome TEXT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	fingerprint TEXT NOT NULL,
	text_length INTEGER NOT NULL,
	entities INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_type TEXT,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS dispatch_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	model TEXT NOT NULL,
	outcome TEXT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	fingerprint TEXT NOT NULL,
	text_length INTEGER NOT NULL,
	entities INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_type TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// bind returns the n-th (1-based) placeholder for the dialect.
func (w *SQLWriter) bind(n int) string {
	if w.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	binds := make([]string, 11)
	for i := range binds {
		binds[i] = w.bind(i + 1)
	}
	query := `INSERT INTO dispatch_logs(trace_id, model, outcome, cache_hit, fingerprint, text_length, entities, duration_ms, error_type, error_message, created_at)
	VALUES(` + strings.Join(binds, ", ") + `)`

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Model,
		entry.Outcome,
		entry.CacheHit,
		entry.Fingerprint,
		entry.TextLength,
		entry.Entities,
		entry.DurationMS,
		entry.ErrorType,
		entry.ErrorMessage,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

func (w *SQLWriter) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, w.bind(len(args))))
	}
	if q.Model != "" {
		add("model = %s", q.Model)
	}
	if q.Outcome != "" {
		add("outcome = %s", q.Outcome)
	}
	if q.Since != nil {
		add("created_at >= %s", q.Since.UTC())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatch_logs"+where, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count request logs: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	query := fmt.Sprintf(`SELECT id, trace_id, model, outcome, cache_hit, fingerprint, text_length, entities, duration_ms, error_type, error_message, created_at
	FROM dispatch_logs%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		where, w.bind(len(args)+1), w.bind(len(args)+2))

	rows, err := w.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data := make([]Entry, 0)
	for rows.Next() {
		var (
			e                        Entry
			traceID, errType, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &traceID, &e.Model, &e.Outcome, &e.CacheHit, &e.Fingerprint,
			&e.TextLength, &e.Entities, &e.DurationMS, &errType, &errMsg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan request log: %w", err)
		}
		e.TraceID = traceID.String
		e.ErrorType = errType.String
		e.ErrorMessage = errMsg.String
		data = append(data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate request logs: %w", err)
	}
	return ListResult{Data: data, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func (w *SQLWriter) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if q.Before != nil {
		args = append(args, q.Before.UTC())
		conds = append(conds, "created_at < "+w.bind(len(args)))
	}
	if q.Model != "" {
		args = append(args, q.Model)
		conds = append(conds, "model = "+w.bind(len(args)))
	}
	if len(conds) == 0 {
		return 0, fmt.Errorf("delete request logs: at least one filter is required")
	}

	res, err := w.db.ExecContext(ctx, "DELETE FROM dispatch_logs WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	return n, nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
