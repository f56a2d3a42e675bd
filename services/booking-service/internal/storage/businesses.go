package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

const businessColumns = `id, public_id, COALESCE(slug, ''), name, timezone, currency, contact_email,
	limit_one_upcoming, prevent_same_service_same_day, onboarding_completed, config_version,
	created_at, updated_at`

func scanBusiness(s scanner) (model.Business, error) {
	var (
		b                model.Business
		created, updated int64
	)
	err := s.Scan(&b.ID, &b.PublicID, &b.Slug, &b.Name, &b.Timezone, &b.Currency, &b.ContactEmail,
		&b.Rules.LimitCustomerToOneUpcomingAppointment, &b.Rules.PreventSameServiceSameDay,
		&b.OnboardingCompleted, &b.ConfigVersion, &created, &updated)
	if err != nil {
		return model.Business{}, notFound(err)
	}
	b.CreatedAt = fromUnix(created)
	b.UpdatedAt = fromUnix(updated)
	return b, nil
}

func (q *queries) GetBusiness(ctx context.Context, id string) (model.Business, error) {
	return scanBusiness(q.queryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
}

func (q *queries) GetBusinessBySlug(ctx context.Context, slug string) (model.Business, error) {
	return scanBusiness(q.queryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE slug = ?`, slug))
}

func (q *queries) GetBusinessByPublicID(ctx context.Context, publicID string) (model.Business, error) {
	return scanBusiness(q.queryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE public_id = ?`, publicID))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (q *queries) CreateBusinessIfMissing(ctx context.Context, b model.Business, week []model.AvailabilityDay) (model.Business, bool, error) {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	res, err := q.exec(ctx, `
		INSERT INTO businesses (id, public_id, slug, name, timezone, currency, contact_email,
			limit_one_upcoming, prevent_same_service_same_day, onboarding_completed, config_version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, b.ID, b.PublicID, nullString(b.Slug), b.Name, b.Timezone, b.Currency, b.ContactEmail,
		b.Rules.LimitCustomerToOneUpcomingAppointment, b.Rules.PreventSameServiceSameDay,
		b.OnboardingCompleted, toUnix(b.CreatedAt), toUnix(b.CreatedAt))
	if err != nil {
		return model.Business{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Business{}, false, err
	}
	created := n > 0
	if created && len(week) > 0 {
		if err := q.ReplaceAvailability(ctx, b.ID, week); err != nil {
			return model.Business{}, false, err
		}
	}
	stored, err := q.GetBusiness(ctx, b.ID)
	return stored, created, err
}

func (q *queries) UpdateBusiness(ctx context.Context, b model.Business) (model.Business, error) {
	res, err := q.exec(ctx, `
		UPDATE businesses
		SET slug = ?, name = ?, timezone = ?, currency = ?, contact_email = ?,
			limit_one_upcoming = ?, prevent_same_service_same_day = ?, onboarding_completed = ?,
			config_version = config_version + 1, updated_at = ?
		WHERE id = ?
	`, nullString(b.Slug), b.Name, b.Timezone, b.Currency, b.ContactEmail,
		b.Rules.LimitCustomerToOneUpcomingAppointment, b.Rules.PreventSameServiceSameDay,
		b.OnboardingCompleted, toUnix(time.Now()), b.ID)
	if err != nil {
		return model.Business{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Business{}, ErrNotFound
	}
	return q.GetBusiness(ctx, b.ID)
}

const serviceColumns = `id, business_id, name, duration_minutes, price, is_active, position, created_at, updated_at`

func scanService(s scanner) (model.Service, error) {
	var (
		svc              model.Service
		created, updated int64
	)
	if err := s.Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.Price,
		&svc.IsActive, &svc.Position, &created, &updated); err != nil {
		return model.Service{}, notFound(err)
	}
	svc.CreatedAt = fromUnix(created)
	svc.UpdatedAt = fromUnix(updated)
	return svc, nil
}

func (q *queries) ListServices(ctx context.Context, businessID string, activeOnly bool) ([]model.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE business_id = ?`
	args := []any{businessID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	rows, err := q.query(ctx, query+` ORDER BY position ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (q *queries) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return scanService(q.queryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE business_id = ? AND id = ?`,
		businessID, serviceID))
}

func (q *queries) InsertService(ctx context.Context, s model.Service) error {
	now := toUnix(time.Now())
	_, err := q.exec(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes, price, is_active, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.BusinessID, s.Name, s.DurationMinutes, s.Price, s.IsActive, s.Position, now, now)
	return err
}

func (q *queries) UpdateService(ctx context.Context, s model.Service) error {
	res, err := q.exec(ctx, `
		UPDATE services
		SET name = ?, duration_minutes = ?, price = ?, is_active = ?, position = ?, updated_at = ?
		WHERE business_id = ? AND id = ?
	`, s.Name, s.DurationMinutes, s.Price, s.IsActive, s.Position, toUnix(time.Now()), s.BusinessID, s.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) ServiceHasAppointments(ctx context.Context, businessID, serviceID string) (bool, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE business_id = ? AND service_id = ?`,
		businessID, serviceID).Scan(&n)
	return n > 0, err
}

func (q *queries) ListAvailability(ctx context.Context, businessID string) ([]model.AvailabilityDay, error) {
	week := make([]model.AvailabilityDay, 7)
	for d := range week {
		week[d] = model.AvailabilityDay{Day: d, Windows: []model.Window{}}
	}

	rows, err := q.query(ctx, `SELECT day, enabled, windows FROM availability_days WHERE business_id = ?`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day     int
			enabled bool
			raw     string
		)
		if err := rows.Scan(&day, &enabled, &raw); err != nil {
			return nil, err
		}
		if day < 0 || day > 6 {
			continue
		}
		var windows []model.Window
		if err := json.Unmarshal([]byte(raw), &windows); err != nil {
			return nil, fmt.Errorf("decode windows for day %d: %w", day, err)
		}
		if windows == nil {
			windows = []model.Window{}
		}
		week[day] = model.AvailabilityDay{Day: day, Enabled: enabled, Windows: windows}
	}
	return week, rows.Err()
}

func (q *queries) ReplaceAvailability(ctx context.Context, businessID string, week []model.AvailabilityDay) error {
	if _, err := q.exec(ctx, `DELETE FROM availability_days WHERE business_id = ?`, businessID); err != nil {
		return err
	}
	for _, d := range week {
		windows := d.Windows
		if windows == nil {
			windows = []model.Window{}
		}
		raw, err := json.Marshal(windows)
		if err != nil {
			return err
		}
		if _, err := q.exec(ctx, `INSERT INTO availability_days (business_id, day, enabled, windows) VALUES (?, ?, ?, ?)`,
			businessID, d.Day, d.Enabled, string(raw)); err != nil {
			return err
		}
	}
	return nil
}
