// Package storage persists the booking domain. One database/sql
// implementation serves both PostgreSQL (production) and SQLite (single-node
// and tests); the Dialect captures the differences.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrSlotTaken  = errors.New("slot already booked")
	ErrSlugTaken  = errors.New("slug already taken")
	ErrEmailTaken = errors.New("email already used by another customer")
)

type AppointmentFilter struct {
	Status model.Status
	// Query matches customer name, phone or email.
	Query string
}

type IdempotencyRecord struct {
	BusinessID    string
	Key           string
	Fingerprint   string
	AppointmentID string
	StatusCode    int
	Response      []byte
}

type OTPPurpose string

const (
	PurposeLogin       OTPPurpose = "LOGIN"
	PurposeEmailChange OTPPurpose = "EMAIL_CHANGE"
)

type OTPRecord struct {
	ID         string
	BusinessID string
	Email      string
	Purpose    OTPPurpose
	CustomerID string
	CodeHash   string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

type Session struct {
	ID         string
	BusinessID string
	CustomerID string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// OutboxMeta carries request-scoped fields stored next to an outbox event.
type OutboxMeta struct {
	Traceparent string
	Tracestate  string
	RequestID   string
}

// Queries is every read and write the service performs. The same set is
// available on the Store and inside a transaction.
type Queries interface {
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	GetBusinessBySlug(ctx context.Context, slug string) (model.Business, error)
	GetBusinessByPublicID(ctx context.Context, publicID string) (model.Business, error)
	// CreateBusinessIfMissing inserts b and its weekly availability unless a
	// business with the same id exists. It returns the stored business.
	CreateBusinessIfMissing(ctx context.Context, b model.Business, week []model.AvailabilityDay) (model.Business, bool, error)
	// UpdateBusiness writes settings and bumps the config version.
	UpdateBusiness(ctx context.Context, b model.Business) (model.Business, error)
	// LockBusiness serializes calendar mutations of one business.
	LockBusiness(ctx context.Context, id string) error

	ListServices(ctx context.Context, businessID string, activeOnly bool) ([]model.Service, error)
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	InsertService(ctx context.Context, s model.Service) error
	UpdateService(ctx context.Context, s model.Service) error
	ServiceHasAppointments(ctx context.Context, businessID, serviceID string) (bool, error)

	// ListAvailability always returns seven days ordered Sunday first.
	ListAvailability(ctx context.Context, businessID string) ([]model.AvailabilityDay, error)
	ReplaceAvailability(ctx context.Context, businessID string, week []model.AvailabilityDay) error

	GetCustomer(ctx context.Context, businessID, id string) (model.Customer, error)
	FindCustomerByEmail(ctx context.Context, businessID, email string) (model.Customer, error)
	FindCustomerByPhone(ctx context.Context, businessID, phone string) (model.Customer, error)
	InsertCustomer(ctx context.Context, c model.Customer) error
	UpdateCustomer(ctx context.Context, c model.Customer) error
	ListCustomers(ctx context.Context, businessID, query string, limit int) ([]model.Customer, error)

	GetAppointment(ctx context.Context, businessID, id string) (model.Appointment, error)
	ListAppointmentsByDate(ctx context.Context, businessID, date string, f AppointmentFilter) ([]model.Appointment, error)
	ListAppointmentsInRange(ctx context.Context, businessID, fromDate, toDate string) ([]model.Appointment, error)
	// ListBookedBetween returns BOOKED appointments overlapping [from,to).
	ListBookedBetween(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error)
	ListCustomerAppointments(ctx context.Context, businessID, customerID string) ([]model.Appointment, error)
	InsertAppointment(ctx context.Context, a model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	// CountBookedBetween counts BOOKED appointments starting in [from,to).
	CountBookedBetween(ctx context.Context, businessID string, from, to time.Time) (int, error)

	GetEntitlement(ctx context.Context, businessID string) (model.Entitlement, error)
	UpsertEntitlement(ctx context.Context, e model.Entitlement) error
	// RecordProviderEvent returns false when the event was already recorded.
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string) (bool, error)

	// LockIdempotencyKey claims key for the business. existed reports a
	// previous claim, whose record is returned.
	LockIdempotencyKey(ctx context.Context, businessID, key, fingerprint string) (rec IdempotencyRecord, existed bool, err error)
	FinalizeIdempotency(ctx context.Context, businessID, key, appointmentID string) error
	SaveIdempotentResponse(ctx context.Context, businessID, key string, statusCode int, body []byte) error

	InsertCustomerOTP(ctx context.Context, rec OTPRecord) error
	// LatestCustomerOTP returns the most recent code; older codes are superseded.
	LatestCustomerOTP(ctx context.Context, businessID, email string, purpose OTPPurpose) (OTPRecord, error)
	// ClaimCustomerOTPAttempt counts one verification attempt. It reports
	// false when the code is consumed or already at maxAttempts.
	ClaimCustomerOTPAttempt(ctx context.Context, id string, maxAttempts int) (bool, error)
	// ConsumeCustomerOTP marks the code used; false means another request won.
	ConsumeCustomerOTP(ctx context.Context, id string, at time.Time) (bool, error)

	CreateSession(ctx context.Context, s Session) error
	GetSessionByTokenHash(ctx context.Context, hash string) (Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error

	InsertOutboxEvent(ctx context.Context, evt outbox.Event, meta OutboxMeta) error
}

type Store interface {
	Queries
	// WithTx runs fn in one transaction. fn must only use the Queries it is
	// given; the SQLite store has a single connection.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
