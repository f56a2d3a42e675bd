package storage

import (
	"context"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

const customerColumns = `id, business_id, full_name, phone, email, status, email_verified, created_at, updated_at`

func scanCustomer(s scanner) (model.Customer, error) {
	var (
		c                model.Customer
		status           string
		created, updated int64
	)
	if err := s.Scan(&c.ID, &c.BusinessID, &c.FullName, &c.Phone, &c.Email, &status, &c.EmailVerified,
		&created, &updated); err != nil {
		return model.Customer{}, notFound(err)
	}
	c.Status = model.CustomerStatus(status)
	c.CreatedAt = fromUnix(created)
	c.UpdatedAt = fromUnix(updated)
	return c, nil
}

func (q *queries) GetCustomer(ctx context.Context, businessID, id string) (model.Customer, error) {
	return scanCustomer(q.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE business_id = ? AND id = ?`,
		businessID, id))
}

func (q *queries) FindCustomerByEmail(ctx context.Context, businessID, email string) (model.Customer, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.Customer{}, ErrNotFound
	}
	return scanCustomer(q.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE business_id = ? AND email = ?`,
		businessID, email))
}

func (q *queries) FindCustomerByPhone(ctx context.Context, businessID, phone string) (model.Customer, error) {
	if phone == "" {
		return model.Customer{}, ErrNotFound
	}
	return scanCustomer(q.queryRow(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE business_id = ? AND phone = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, businessID, phone))
}

func (q *queries) InsertCustomer(ctx context.Context, c model.Customer) error {
	now := toUnix(time.Now())
	if c.Status == "" {
		c.Status = model.CustomerActive
	}
	_, err := q.exec(ctx, `
		INSERT INTO customers (id, business_id, full_name, phone, email, status, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BusinessID, c.FullName, c.Phone, model.NormalizeEmail(c.Email), string(c.Status), c.EmailVerified, now, now)
	return err
}

func (q *queries) UpdateCustomer(ctx context.Context, c model.Customer) error {
	res, err := q.exec(ctx, `
		UPDATE customers
		SET full_name = ?, phone = ?, email = ?, status = ?, email_verified = ?, updated_at = ?
		WHERE business_id = ? AND id = ?
	`, c.FullName, c.Phone, model.NormalizeEmail(c.Email), string(c.Status), c.EmailVerified, toUnix(time.Now()),
		c.BusinessID, c.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) ListCustomers(ctx context.Context, businessID, query string, limit int) ([]model.Customer, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	stmt := `SELECT ` + customerColumns + ` FROM customers WHERE business_id = ?`
	args := []any{businessID}
	if query != "" {
		p := likePattern(query)
		stmt += ` AND (LOWER(full_name) LIKE ? ESCAPE '\' OR LOWER(phone) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	stmt += ` ORDER BY full_name ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
