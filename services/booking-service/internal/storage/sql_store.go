package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/outbox"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	*queries
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenPostgres builds a store on the shared pgx pool. The pool stays owned by
// the caller.
func OpenPostgres(pool *db.Pool) *SQLStore {
	sqlDB := pool.SQL()
	return &SQLStore{queries: &queries{x: sqlDB, d: postgresDialect{}}, db: sqlDB}
}

// OpenSQLite opens path (":memory:" for a private in-memory database).
func OpenSQLite(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	dsn := path + "?_txlock=immediate&_foreign_keys=1&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: an in-memory database is private to its connection and
	// SQLite admits a single writer anyway.
	sqlDB.SetMaxOpenConns(1)
	return &SQLStore{queries: &queries{x: sqlDB, d: sqliteDialect{}}, db: sqlDB}, nil
}

func (s *SQLStore) Dialect() string { return s.d.Name() }

// Migrate creates the schema when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.Name(), err)
		}
	}
	return nil
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{x: tx, d: s.d}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ClaimBatch hands unpublished outbox rows to publish and marks them
// published when it succeeds.
func (s *SQLStore) ClaimBatch(ctx context.Context, limit int, publish func([]outbox.Record) error) error {
	return s.WithTx(ctx, func(q Queries) error {
		tq := q.(*queries)
		rows, err := tq.query(ctx, `
			SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload,
				traceparent, tracestate, request_id, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id ASC
			LIMIT ?`+s.d.SkipLocked(), limit)
		if err != nil {
			return err
		}
		var records []outbox.Record
		for rows.Next() {
			var (
				r       outbox.Record
				payload []byte
				created int64
			)
			if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &payload,
				&r.Traceparent, &r.Tracestate, &r.RequestID, &created); err != nil {
				rows.Close()
				return err
			}
			r.Payload = payload
			r.CreatedAt = fromUnix(created)
			records = append(records, r)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := publish(records); err != nil {
			return err
		}
		now := toUnix(time.Now())
		for _, r := range records {
			if _, err := tq.exec(ctx, `UPDATE outbox_events SET published_at = ? WHERE id = ?`, now, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

type queries struct {
	x execer
	d Dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.x.ExecContext(ctx, q.d.Rebind(query), args...)
	return res, q.d.Classify(err)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.x.QueryContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.x.QueryRowContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) LockBusiness(ctx context.Context, id string) error {
	return q.d.LockBusiness(ctx, q.x, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func toUnix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// likePattern builds a case-insensitive LIKE pattern for a free-text query.
func likePattern(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(raw)
	return "%" + raw + "%"
}
