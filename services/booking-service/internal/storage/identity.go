package storage

import (
	"context"
	"database/sql"
	"time"
)

func (q *queries) InsertCustomerOTP(ctx context.Context, rec OTPRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `
		INSERT INTO customer_otp_codes (id, business_id, email, purpose, customer_id, code_hash,
			expires_at, attempts, consumed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.BusinessID, rec.Email, string(rec.Purpose), rec.CustomerID, rec.CodeHash,
		toUnix(rec.ExpiresAt), rec.Attempts, toNullUnix(rec.ConsumedAt), toUnix(rec.CreatedAt))
	return err
}

func (q *queries) LatestCustomerOTP(ctx context.Context, businessID, email string, purpose OTPPurpose) (OTPRecord, error) {
	var (
		rec              OTPRecord
		p                string
		expires, created int64
		consumed         sql.NullInt64
	)
	err := q.queryRow(ctx, `
		SELECT id, business_id, email, purpose, customer_id, code_hash, expires_at, attempts, consumed_at, created_at
		FROM customer_otp_codes
		WHERE business_id = ? AND email = ? AND purpose = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, businessID, email, string(purpose)).Scan(&rec.ID, &rec.BusinessID, &rec.Email, &p, &rec.CustomerID,
		&rec.CodeHash, &expires, &rec.Attempts, &consumed, &created)
	if err != nil {
		return OTPRecord{}, notFound(err)
	}
	rec.Purpose = OTPPurpose(p)
	rec.ExpiresAt = fromUnix(expires)
	rec.ConsumedAt = fromNullUnix(consumed)
	rec.CreatedAt = fromUnix(created)
	return rec, nil
}

func (q *queries) ClaimCustomerOTPAttempt(ctx context.Context, id string, maxAttempts int) (bool, error) {
	res, err := q.exec(ctx, `
		UPDATE customer_otp_codes SET attempts = attempts + 1
		WHERE id = ? AND consumed_at IS NULL AND attempts < ?
	`, id, maxAttempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (q *queries) ConsumeCustomerOTP(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := q.exec(ctx, `UPDATE customer_otp_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toUnix(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (q *queries) CreateSession(ctx context.Context, s Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `
		INSERT INTO customer_sessions (id, business_id, customer_id, token_hash, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.BusinessID, s.CustomerID, s.TokenHash, toUnix(s.ExpiresAt), toNullUnix(s.RevokedAt), toUnix(s.CreatedAt))
	return err
}

func (q *queries) GetSessionByTokenHash(ctx context.Context, hash string) (Session, error) {
	var (
		s                Session
		expires, created int64
		revoked          sql.NullInt64
	)
	err := q.queryRow(ctx, `
		SELECT id, business_id, customer_id, token_hash, expires_at, revoked_at, created_at
		FROM customer_sessions WHERE token_hash = ?
	`, hash).Scan(&s.ID, &s.BusinessID, &s.CustomerID, &s.TokenHash, &expires, &revoked, &created)
	if err != nil {
		return Session{}, notFound(err)
	}
	s.ExpiresAt = fromUnix(expires)
	s.RevokedAt = fromNullUnix(revoked)
	s.CreatedAt = fromUnix(created)
	return s, nil
}

func (q *queries) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE customer_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toUnix(at), id)
	return err
}
