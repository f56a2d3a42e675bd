package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/bookwell/bookwell/libs/db"
	"github.com/mattn/go-sqlite3"
)

// Dialect isolates what differs between the two supported databases.
type Dialect interface {
	Name() string
	// Rebind rewrites "?" placeholders into the driver's syntax.
	Rebind(query string) string
	Schema() []string
	LockBusiness(ctx context.Context, x execer, id string) error
	// SkipLocked is appended to SELECTs that claim rows for a worker.
	SkipLocked() string
	// Classify maps constraint violations to storage sentinels.
	Classify(err error) error
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) Schema() []string { return postgresSchema }

func (postgresDialect) LockBusiness(ctx context.Context, x execer, id string) error {
	var locked string
	err := x.QueryRowContext(ctx, `SELECT id FROM businesses WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (postgresDialect) SkipLocked() string { return " FOR UPDATE SKIP LOCKED" }

func (postgresDialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	if db.IsExclusionViolation(err) {
		return ErrSlotTaken
	}
	if db.IsUniqueViolation(err) {
		switch name := db.ConstraintName(err); {
		case strings.HasPrefix(name, "appointments_"):
			return ErrSlotTaken
		case strings.HasPrefix(name, "businesses_slug"):
			return ErrSlugTaken
		case strings.HasPrefix(name, "customers_business_email"):
			return ErrEmailTaken
		}
	}
	return err
}

// sqliteDialect relies on "_txlock=immediate": every transaction takes the
// write lock up front, which already serializes businesses.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) Schema() []string { return sqliteSchema }

func (sqliteDialect) LockBusiness(ctx context.Context, x execer, id string) error {
	var locked string
	err := x.QueryRowContext(ctx, `SELECT id FROM businesses WHERE id = ?`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (sqliteDialect) SkipLocked() string { return "" }

func (sqliteDialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}
	msg := serr.Error()
	switch {
	case strings.Contains(msg, "appointments."):
		return ErrSlotTaken
	case strings.Contains(msg, "businesses.slug"):
		return ErrSlugTaken
	case strings.Contains(msg, "customers."):
		return ErrEmailTaken
	}
	return err
}
