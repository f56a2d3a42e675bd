package storage

import (
	"context"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

func (q *queries) GetEntitlement(ctx context.Context, businessID string) (model.Entitlement, error) {
	var (
		e       model.Entitlement
		updated int64
	)
	err := q.queryRow(ctx, `
		SELECT business_id, tier, max_monthly_appointments, updated_at
		FROM business_entitlements WHERE business_id = ?
	`, businessID).Scan(&e.BusinessID, &e.Tier, &e.MaxMonthlyAppointments, &updated)
	if err != nil {
		return model.Entitlement{}, notFound(err)
	}
	e.UpdatedAt = fromUnix(updated)
	return e, nil
}

func (q *queries) UpsertEntitlement(ctx context.Context, e model.Entitlement) error {
	_, err := q.exec(ctx, `
		INSERT INTO business_entitlements (business_id, tier, max_monthly_appointments, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (business_id)
		DO UPDATE SET tier = excluded.tier,
			max_monthly_appointments = excluded.max_monthly_appointments,
			updated_at = excluded.updated_at
	`, e.BusinessID, e.Tier, e.MaxMonthlyAppointments, toUnix(time.Now()))
	return err
}

func (q *queries) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := q.exec(ctx, `
		INSERT INTO provider_events (provider, event_id, event_type, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType, toUnix(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *queries) LockIdempotencyKey(ctx context.Context, businessID, key, fingerprint string) (IdempotencyRecord, bool, error) {
	now := toUnix(time.Now())
	res, err := q.exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key, fingerprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key, fingerprint, now, now)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec := IdempotencyRecord{BusinessID: businessID, Key: key}
	err = q.queryRow(ctx, `
		SELECT fingerprint, appointment_id, status_code, response_payload
		FROM booking_idempotency_keys
		WHERE business_id = ? AND idempotency_key = ?
	`, businessID, key).Scan(&rec.Fingerprint, &rec.AppointmentID, &rec.StatusCode, &rec.Response)
	if err != nil {
		return IdempotencyRecord{}, false, notFound(err)
	}
	return rec, inserted == 0, nil
}

func (q *queries) FinalizeIdempotency(ctx context.Context, businessID, key, appointmentID string) error {
	_, err := q.exec(ctx, `
		UPDATE booking_idempotency_keys SET appointment_id = ?, updated_at = ?
		WHERE business_id = ? AND idempotency_key = ?
	`, appointmentID, toUnix(time.Now()), businessID, key)
	return err
}

func (q *queries) SaveIdempotentResponse(ctx context.Context, businessID, key string, statusCode int, body []byte) error {
	_, err := q.exec(ctx, `
		UPDATE booking_idempotency_keys SET status_code = ?, response_payload = ?, updated_at = ?
		WHERE business_id = ? AND idempotency_key = ?
	`, statusCode, body, toUnix(time.Now()), businessID, key)
	return err
}
