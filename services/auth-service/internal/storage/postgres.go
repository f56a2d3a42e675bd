// Package storage is the Postgres implementation of the staff store and
// the auth service outbox.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/httpx"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS staff_users (
		id UUID PRIMARY KEY,
		business_id UUID NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS staff_otp_codes (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		consumed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS staff_otp_codes_email_idx ON staff_otp_codes (email, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES staff_users (id),
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		actor_id UUID,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		tracestate TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx ON outbox_events (id) WHERE published_at IS NULL`,
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

func notFound(err error) error {
	if db.IsNotFound(err) {
		return staff.ErrNotFound
	}
	return err
}

const userColumns = `id::text, business_id::text, email, role, created_at`

func scanUser(row pgx.Row) (staff.User, error) {
	var u staff.User
	if err := row.Scan(&u.ID, &u.BusinessID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return staff.User{}, notFound(err)
	}
	return u, nil
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (staff.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM staff_users WHERE email = $1`, email))
}

func (r *Repository) UserByID(ctx context.Context, id string) (staff.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return staff.User{}, staff.ErrNotFound
	}
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM staff_users WHERE id = $1`, id))
}

func (r *Repository) CreateUser(ctx context.Context, u staff.User, evt outbox.Event) error {
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff_users (id, business_id, email, role, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, u.ID, u.BusinessID, u.Email, u.Role, u.CreatedAt); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, evt)
	})
	if db.IsUniqueViolation(err) {
		return staff.ErrEmailTaken
	}
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, evt outbox.Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload,
			traceparent, tracestate, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload,
		traceparent, tracestate, httpx.RequestIDFromContext(ctx))
	return err
}

func (r *Repository) InsertCode(ctx context.Context, c staff.LoginCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_otp_codes (id, email, code_hash, expires_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Email, c.Hash, c.ExpiresAt, c.Attempts, c.CreatedAt)
	return err
}

func (r *Repository) LatestCode(ctx context.Context, email string) (staff.LoginCode, error) {
	var c staff.LoginCode
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, code_hash, expires_at, attempts, consumed_at, created_at
		FROM staff_otp_codes
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, email).Scan(&c.ID, &c.Email, &c.Hash, &c.ExpiresAt, &c.Attempts, &c.ConsumedAt, &c.CreatedAt)
	if err != nil {
		return staff.LoginCode{}, notFound(err)
	}
	return c, nil
}

func (r *Repository) ClaimAttempt(ctx context.Context, id string, maxAttempts int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE staff_otp_codes
		SET attempts = attempts + 1
		WHERE id = $1 AND consumed_at IS NULL AND attempts < $2
	`, id, maxAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ConsumeCode(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE staff_otp_codes
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, t staff.RefreshToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.UserID, t.Hash, t.ExpiresAt)
	return err
}

func (r *Repository) RefreshTokenByHash(ctx context.Context, hash string) (staff.RefreshToken, error) {
	var t staff.RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, token_hash, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash).Scan(&t.ID, &t.UserID, &t.Hash, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		return staff.RefreshToken{}, notFound(err)
	}
	return t, nil
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) RecordAudit(ctx context.Context, eventType, actorID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_id, metadata)
		VALUES ($1, NULLIF($2, '')::uuid, $3)
	`, eventType, actorID, raw)
	return err
}

// ClaimBatch locks unpublished outbox rows, hands them to publish and marks
// them published when it succeeds.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, publish func([]outbox.Record) error) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
				traceparent, tracestate, request_id, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Record, error) {
			var rec outbox.Record
			err := row.Scan(&rec.ID, &rec.EventID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
				&rec.Payload, &rec.Traceparent, &rec.Tracestate, &rec.RequestID, &rec.CreatedAt)
			return rec, err
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := publish(records); err != nil {
			return err
		}
		ids := make([]int64, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		_, err = tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
		return err
	})
}

var (
	_ staff.Store   = (*Repository)(nil)
	_ outbox.Source = (*Repository)(nil)
)
