// Package storage keeps owner alerts and the consumer inbox in Postgres.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/services/notification-service/internal/alerts"
	"github.com/jackc/pgx/v5"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inbox_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		appointment_id UUID NOT NULL,
		business_id UUID NOT NULL,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		next_attempt_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_due_idx ON notifications (next_attempt_at) WHERE status = 'pending'`,
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Record stores the event id and reports false when it was already processed.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repository) InsertNotification(ctx context.Context, n alerts.Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, event_id, appointment_id, business_id, kind, recipient,
			subject, body, status, attempts, last_error, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
	`, n.ID, n.EventID, n.AppointmentID, n.BusinessID, string(n.Kind), n.Recipient,
		n.Subject, n.Body, string(n.Status), n.Attempts, n.LastError, n.NextAttemptAt, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) UpdateNotification(ctx context.Context, n alerts.Notification) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, sent_at = $6
		WHERE id = $1
	`, n.ID, string(n.Status), n.Attempts, n.LastError, n.NextAttemptAt, n.SentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found", n.ID)
	}
	return nil
}

// DueNotifications claims up to limit pending rows by pushing their next
// attempt to leaseUntil, so concurrent workers pick disjoint rows.
func (r *Repository) DueNotifications(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]alerts.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET next_attempt_at = $3
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, event_id, appointment_id::text, business_id::text, kind, recipient,
			subject, body, status, attempts, last_error, next_attempt_at, sent_at, created_at
	`, now, limit, leaseUntil)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (alerts.Notification, error) {
		var (
			n            alerts.Notification
			kind, status string
		)
		err := row.Scan(&n.ID, &n.EventID, &n.AppointmentID, &n.BusinessID, &kind, &n.Recipient,
			&n.Subject, &n.Body, &status, &n.Attempts, &n.LastError, &n.NextAttemptAt, &n.SentAt, &n.CreatedAt)
		n.Kind = alerts.Kind(kind)
		n.Status = alerts.Status(status)
		return n, err
	})
}
