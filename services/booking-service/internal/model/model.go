// Package model holds the booking domain types shared by storage, the engine
// and the transports.
package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
	StatusCanceled  Status = "CANCELED"
)

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusBooked, StatusCompleted, StatusNoShow, StatusCanceled:
		return s, true
	}
	return "", false
}

type CancelledBy string

const (
	CancelledByBusiness CancelledBy = "BUSINESS"
	CancelledByCustomer CancelledBy = "CUSTOMER"
)

type Source string

const (
	SourceAdmin  Source = "ADMIN"
	SourcePublic Source = "PUBLIC"
)

type CustomerStatus string

const (
	CustomerActive  CustomerStatus = "ACTIVE"
	CustomerBlocked CustomerStatus = "BLOCKED"
)

type Rules struct {
	LimitCustomerToOneUpcomingAppointment bool `json:"limitCustomerToOneUpcomingAppointment"`
	PreventSameServiceSameDay             bool `json:"preventSameServiceSameDay"`
}

type Business struct {
	ID                  string
	PublicID            string
	Slug                string
	Name                string
	Timezone            string
	Currency            string
	ContactEmail        string
	Rules               Rules
	OnboardingCompleted bool
	// ConfigVersion changes whenever settings, services or availability change.
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Location resolves the business time zone. An empty zone means UTC.
func (b Business) Location() (*time.Location, error) {
	if strings.TrimSpace(b.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.Timezone)
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Price           int64
	IsActive        bool
	Position        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Window is a half-open [Start,End) range of wall-clock times, "HH:mm".
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AvailabilityDay struct {
	Day     int      `json:"day"`
	Enabled bool     `json:"enabled"`
	Windows []Window `json:"windows"`
}

type Customer struct {
	ID            string
	BusinessID    string
	FullName      string
	Phone         string
	Email         string
	Status        CustomerStatus
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Appointment struct {
	ID         string
	BusinessID string
	// Date, StartTime and EndTime are civil values in the business time zone.
	Date        string
	StartTime   string
	EndTime     string
	StartAt     time.Time
	EndAt       time.Time
	ServiceID   string
	ServiceName string
	CustomerID  string
	// Customer snapshot taken at booking time.
	CustomerFullName string
	CustomerPhone    string
	CustomerEmail    string
	Status           Status
	CancelledBy      CancelledBy
	CancelledAt      *time.Time
	Notes            string
	Source           Source
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Incoming reports whether the appointment has not ended yet.
func (a Appointment) Incoming(now time.Time) bool {
	return a.EndAt.After(now)
}

type Entitlement struct {
	BusinessID             string
	Tier                   string
	MaxMonthlyAppointments int
	UpdatedAt              time.Time
}

const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPro     = "pro"
)

// TierLimit returns the monthly BOOKED cap of a plan tier.
func TierLimit(tier string, freeLimit int) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case TierFree:
		return freeLimit, true
	case TierStarter:
		return 500, true
	case TierPro:
		return 2000, true
	}
	return 0, false
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
