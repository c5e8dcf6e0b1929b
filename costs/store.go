// Package costs is the relational store for per-request cost and latency
// rows. It supports SQLite (default) and PostgreSQL, selected by URL. All
// write operations are fail-soft: an insert error is logged and never
// propagates to the caller.
package costs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"goa.design/clue/log"
	_ "modernc.org/sqlite"
)

type (
	// Row is one costs table row.
	Row struct {
		ID           int64     `json:"id"`
		TS           time.Time `json:"ts"`
		Provider     string    `json:"provider"`
		Model        string    `json:"model"`
		InputTokens  int       `json:"input_tokens"`
		OutputTokens int       `json:"output_tokens"`
		LatencyMS    int       `json:"latency_ms"`
		HeinzelID    string    `json:"heinzel_id,omitempty"`
		SessionID    string    `json:"session_id,omitempty"`
		TaskID       string    `json:"task_id,omitempty"`
		Status       string    `json:"status"`
		ErrorMessage string    `json:"error_message,omitempty"`
	}

	// Filter selects rows for Query and Summary. Zero-valued fields match
	// everything.
	Filter struct {
		SessionID string
		HeinzelID string
		Provider  string
		Model     string
		Status    string
		Since     string // RFC 3339 or SQL timestamp
		Until     string
		Limit     int
	}

	// Summary aggregates rows matching a filter.
	Summary struct {
		TotalRequests     int     `json:"total_requests"`
		TotalInputTokens  int     `json:"total_input_tokens"`
		TotalOutputTokens int     `json:"total_output_tokens"`
		AvgLatencyMS      float64 `json:"avg_latency_ms"`
		ErrorCount        int     `json:"error_count"`
	}

	// Store wraps the costs database. The zero value is unusable; use Open.
	Store struct {
		db      *sql.DB
		dialect string
	}
)

// Row status values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusRateLimit = "rate_limit"
)

// MaxQueryLimit caps how many rows a single query returns.
const MaxQueryLimit = 1000

const createTableSQLite = `
CREATE TABLE IF NOT EXISTS costs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL,
    input_tokens  INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    latency_ms  INTEGER DEFAULT 0,
    heinzel_id  TEXT,
    session_id  TEXT,
    task_id     TEXT,
    status      TEXT DEFAULT 'success',
    error_message TEXT
)`

// Open connects to the store described by url (postgresql://... or
// sqlite:///path) and creates the costs table if absent.
func Open(ctx context.Context, url string) (*Store, error) {
	var (
		db      *sql.DB
		dialect string
		err     error
	)
	switch {
	case strings.HasPrefix(url, "postgresql://") || strings.HasPrefix(url, "postgres://"):
		dialect = "postgres"
		db, err = sql.Open("pgx", url)
		if err == nil {
			db.SetMaxIdleConns(2)
			db.SetMaxOpenConns(10)
		}
	default:
		dialect = "sqlite"
		path := strings.TrimPrefix(url, "sqlite:///")
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
		db, err = sql.Open("sqlite", dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("costs: open %s store: %w", dialect, err)
	}
	s := &Store{db: db, dialect: dialect}
	ddl := createTableSQLite
	if dialect == "postgres" {
		ddl = strings.Replace(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY", 1)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("costs: create table: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Insert appends one cost row. Failures are logged, never returned.
func (s *Store) Insert(ctx context.Context, r Row) {
	q := s.rebind(`INSERT INTO costs (
    provider, model, input_tokens, output_tokens,
    latency_ms, heinzel_id, session_id, task_id,
    status, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		r.Provider, r.Model, r.InputTokens, r.OutputTokens,
		r.LatencyMS, nullable(r.HeinzelID), nullable(r.SessionID), nullable(r.TaskID),
		r.Status, nullable(r.ErrorMessage))
	if err != nil {
		log.Errorf(ctx, err, "costs: insert row")
	}
}

// Query returns rows matching f, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Row, error) {
	where, params := buildWhere(f)
	limit := f.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	params = append(params, limit)
	q := s.rebind(fmt.Sprintf(`SELECT id, ts, provider, model, input_tokens, output_tokens,
    latency_ms, heinzel_id, session_id, task_id, status, error_message
FROM costs %s ORDER BY ts DESC, id DESC LIMIT ?`, where))
	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("costs: query: %w", err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			r                            Row
			ts                           string
			heinzelID, sessionID, taskID sql.NullString
			errorMessage                 sql.NullString
		)
		if err := rows.Scan(&r.ID, &ts, &r.Provider, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.LatencyMS, &heinzelID, &sessionID, &taskID,
			&r.Status, &errorMessage); err != nil {
			return nil, fmt.Errorf("costs: scan row: %w", err)
		}
		r.TS = parseTS(ts)
		r.HeinzelID = heinzelID.String
		r.SessionID = sessionID.String
		r.TaskID = taskID.String
		r.ErrorMessage = errorMessage.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Aggregate computes the summary for rows matching f. Timestamp range and
// identity filters apply; Model, Status and Limit are ignored.
func (s *Store) Aggregate(ctx context.Context, f Filter) (Summary, error) {
	f.Model, f.Status, f.Provider = "", "", ""
	where, params := buildWhere(f)
	q := s.rebind(fmt.Sprintf(`SELECT COUNT(*),
    COALESCE(SUM(input_tokens), 0),
    COALESCE(SUM(output_tokens), 0),
    COALESCE(AVG(latency_ms), 0),
    COALESCE(SUM(CASE WHEN status='error' THEN 1 ELSE 0 END), 0)
FROM costs %s`, where))
	var sum Summary
	err := s.db.QueryRowContext(ctx, q, params...).Scan(
		&sum.TotalRequests, &sum.TotalInputTokens, &sum.TotalOutputTokens,
		&sum.AvgLatencyMS, &sum.ErrorCount)
	if err != nil {
		return Summary{}, fmt.Errorf("costs: summary: %w", err)
	}
	return sum, nil
}

// DeleteOlderThan removes rows with ts before cutoff and returns how many
// were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM costs WHERE ts < ?"),
		cutoff.UTC().Format(sqlTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("costs: delete old rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func buildWhere(f Filter) (string, []any) {
	var (
		conds  []string
		params []any
	)
	add := func(cond string, v any) {
		conds = append(conds, cond)
		params = append(params, v)
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if f.HeinzelID != "" {
		add("heinzel_id = ?", f.HeinzelID)
	}
	if f.Provider != "" {
		add("provider = ?", f.Provider)
	}
	if f.Model != "" {
		add("model = ?", f.Model)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Since != "" {
		add("ts >= ?", f.Since)
	}
	if f.Until != "" {
		add("ts <= ?", f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), params
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sqlTimeLayout matches CURRENT_TIMESTAMP as SQLite renders it and is
// implicitly castable by PostgreSQL.
const sqlTimeLayout = "2006-01-02 15:04:05"

func parseTS(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, sqlTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
