package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"inbox/internal/adapters/http/perf"
)

// SQLDB is what the stores need from a database handle.
// Both *sql.DB and *TimedDB satisfy it.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var _ SQLDB = (*sql.DB)(nil)

// DefaultSlowQueryMs applies when NewTimedDB is given no threshold.
const DefaultSlowQueryMs = 50

// TimedDB measures every statement, warns about slow or failing ones and
// feeds the perf collector when one is attached.
type TimedDB struct {
	db        *sql.DB
	collector *perf.Collector
	threshold float64
}

var _ SQLDB = (*TimedDB)(nil)

// NewTimedDB wraps db. collector may be nil.
// PRE: db is open
// POST: slowQueryMs <= 0 is replaced by DefaultSlowQueryMs
func NewTimedDB(db *sql.DB, collector *perf.Collector, slowQueryMs int) *TimedDB {
	if slowQueryMs <= 0 {
		slowQueryMs = DefaultSlowQueryMs
	}
	return &TimedDB{db: db, collector: collector, threshold: float64(slowQueryMs)}
}

// RawDB exposes the wrapped handle for migrations.
func (t *TimedDB) RawDB() *sql.DB { return t.db }

func (t *TimedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.db.ExecContext(ctx, query, args...)
	t.observe(start, query, err)
	return res, err
}

func (t *TimedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	t.observe(start, query, err)
	return rows, err
}

// QueryRowContext times only the round trip; scan errors surface later on the row.
func (t *TimedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer t.observe(time.Now(), query, nil)
	return t.db.QueryRowContext(ctx, query, args...)
}

func (t *TimedDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	start := time.Now()
	tx, err := t.db.BeginTx(ctx, opts)
	t.observe(start, "BEGIN", err)
	return tx, err
}

// PingContext checks the connection for the health endpoint.
func (t *TimedDB) PingContext(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

func (t *TimedDB) Close() error {
	return t.db.Close()
}

func (t *TimedDB) observe(start time.Time, query string, err error) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	label := statement(query)

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		slog.Warn("query_event", "event", "query_failed", "stmt", label, "duration_ms", elapsed, "error", err)
	case elapsed >= t.threshold:
		slog.Warn("query_event", "event", "slow_query", "stmt", label, "duration_ms", elapsed)
	default:
		slog.Debug("query_event", "event", "query", "stmt", label, "duration_ms", elapsed)
	}

	if t.collector != nil {
		t.collector.Record(perf.Entry{Kind: perf.KindQuery, Path: label, DurationMs: elapsed, Timestamp: start})
	}
}

// statement labels a query by its verb and the table it targets,
// e.g. "UPDATE message" or "SELECT user_profile".
func statement(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	verb := strings.ToUpper(fields[0])
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE", "JOIN":
			return verb + " " + strings.Trim(fields[i+1], "(),;")
		}
	}
	return verb
}
