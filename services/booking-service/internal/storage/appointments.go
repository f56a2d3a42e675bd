package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

const appointmentColumns = `id, business_id, service_id, service_name, customer_id,
	customer_full_name, customer_phone, customer_email, date, start_min, end_min, start_unix, end_unix,
	status, cancelled_by, cancelled_at, notes, source, created_at, updated_at`

func scanAppointment(s scanner) (model.Appointment, error) {
	var (
		a                  model.Appointment
		startMin, endMin   int
		startUnix, endUnix int64
		status, by, source string
		cancelledAt        sql.NullInt64
		created, updated   int64
	)
	if err := s.Scan(&a.ID, &a.BusinessID, &a.ServiceID, &a.ServiceName, &a.CustomerID,
		&a.CustomerFullName, &a.CustomerPhone, &a.CustomerEmail, &a.Date, &startMin, &endMin, &startUnix, &endUnix,
		&status, &by, &cancelledAt, &a.Notes, &source, &created, &updated); err != nil {
		return model.Appointment{}, notFound(err)
	}
	a.StartTime = model.FormatClock(startMin)
	a.EndTime = model.FormatClock(endMin)
	a.StartAt = fromUnix(startUnix)
	a.EndAt = fromUnix(endUnix)
	a.Status = model.Status(status)
	a.CancelledBy = model.CancelledBy(by)
	a.CancelledAt = fromNullUnix(cancelledAt)
	a.Source = model.Source(source)
	a.CreatedAt = fromUnix(created)
	a.UpdatedAt = fromUnix(updated)
	return a, nil
}

func (q *queries) listAppointments(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) GetAppointment(ctx context.Context, businessID, id string) (model.Appointment, error) {
	return scanAppointment(q.queryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE business_id = ? AND id = ?`,
		businessID, id))
}

func (q *queries) ListAppointmentsByDate(ctx context.Context, businessID, date string, f AppointmentFilter) ([]model.Appointment, error) {
	stmt := `SELECT ` + appointmentColumns + ` FROM appointments WHERE business_id = ? AND date = ?`
	args := []any{businessID, date}
	if f.Status != "" {
		stmt += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Query != "" {
		p := likePattern(f.Query)
		stmt += ` AND (LOWER(customer_full_name) LIKE ? ESCAPE '\' OR LOWER(customer_phone) LIKE ? ESCAPE '\' OR LOWER(customer_email) LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	return q.listAppointments(ctx, stmt+` ORDER BY start_min ASC, created_at ASC, id ASC`, args...)
}

func (q *queries) ListAppointmentsInRange(ctx context.Context, businessID, fromDate, toDate string) ([]model.Appointment, error) {
	return q.listAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE business_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, start_min ASC, id ASC
	`, businessID, fromDate, toDate)
}

func (q *queries) ListBookedBetween(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error) {
	return q.listAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE business_id = ? AND status = 'BOOKED' AND start_unix < ? AND end_unix > ?
		ORDER BY start_unix ASC
	`, businessID, toUnix(to), toUnix(from))
}

func (q *queries) ListCustomerAppointments(ctx context.Context, businessID, customerID string) ([]model.Appointment, error) {
	return q.listAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE business_id = ? AND customer_id = ?
		ORDER BY start_unix ASC, id ASC
	`, businessID, customerID)
}

func clockMinutes(raw string) int {
	m, _ := model.ParseClock(raw, true)
	return m
}

func (q *queries) InsertAppointment(ctx context.Context, a model.Appointment) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := q.exec(ctx, `
		INSERT INTO appointments (id, business_id, service_id, service_name, customer_id,
			customer_full_name, customer_phone, customer_email, date, start_min, end_min, start_unix, end_unix,
			status, cancelled_by, cancelled_at, notes, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BusinessID, a.ServiceID, a.ServiceName, a.CustomerID,
		a.CustomerFullName, a.CustomerPhone, a.CustomerEmail, a.Date, clockMinutes(a.StartTime), clockMinutes(a.EndTime),
		toUnix(a.StartAt), toUnix(a.EndAt), string(a.Status), string(a.CancelledBy), toNullUnix(a.CancelledAt),
		a.Notes, string(a.Source), toUnix(a.CreatedAt), toUnix(now))
	return err
}

func (q *queries) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	res, err := q.exec(ctx, `
		UPDATE appointments
		SET date = ?, start_min = ?, end_min = ?, start_unix = ?, end_unix = ?,
			status = ?, cancelled_by = ?, cancelled_at = ?, notes = ?, updated_at = ?
		WHERE business_id = ? AND id = ?
	`, a.Date, clockMinutes(a.StartTime), clockMinutes(a.EndTime), toUnix(a.StartAt), toUnix(a.EndAt),
		string(a.Status), string(a.CancelledBy), toNullUnix(a.CancelledAt), a.Notes, toUnix(time.Now()),
		a.BusinessID, a.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) CountBookedBetween(ctx context.Context, businessID string, from, to time.Time) (int, error) {
	var n int
	err := q.queryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE business_id = ? AND status = 'BOOKED' AND start_unix >= ? AND start_unix < ?
	`, businessID, toUnix(from), toUnix(to)).Scan(&n)
	return n, err
}
