package handlers

import (
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

type customerSnapshot struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

type appointmentJSON struct {
	ID          string           `json:"id"`
	Date        string           `json:"date"`
	StartTime   string           `json:"startTime"`
	EndTime     string           `json:"endTime"`
	StartAt     time.Time        `json:"startAt"`
	EndAt       time.Time        `json:"endAt"`
	ServiceID   string           `json:"serviceId"`
	ServiceName string           `json:"serviceName"`
	CustomerID  string           `json:"customerId"`
	Customer    customerSnapshot `json:"customer"`
	Status      model.Status     `json:"status"`
	CancelledBy *string          `json:"cancelledBy"`
	CancelledAt *time.Time       `json:"cancelledAt"`
	Notes       string           `json:"notes"`
	Source      model.Source     `json:"source"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	Incoming                   bool `json:"incoming"`
	CancelRequiresConfirmation bool `json:"cancelRequiresConfirmation"`
}

func toAppointmentJSON(a model.Appointment, now time.Time) appointmentJSON {
	out := appointmentJSON{
		ID:          a.ID,
		Date:        a.Date,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		StartAt:     a.StartAt.UTC(),
		EndAt:       a.EndAt.UTC(),
		ServiceID:   a.ServiceID,
		ServiceName: a.ServiceName,
		CustomerID:  a.CustomerID,
		Customer: customerSnapshot{
			FullName: a.CustomerFullName,
			Phone:    a.CustomerPhone,
			Email:    a.CustomerEmail,
		},
		Status:      a.Status,
		CancelledAt: a.CancelledAt,
		Notes:       a.Notes,
		Source:      a.Source,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
		Incoming:    a.Incoming(now),
	}
	if a.CancelledBy != "" {
		by := string(a.CancelledBy)
		out.CancelledBy = &by
	}
	out.CancelRequiresConfirmation = out.Incoming && a.Status == model.StatusBooked
	return out
}

func toAppointmentsJSON(in []model.Appointment, now time.Time) []appointmentJSON {
	out := make([]appointmentJSON, 0, len(in))
	for _, a := range in {
		out = append(out, toAppointmentJSON(a, now))
	}
	return out
}

type customerJSON struct {
	ID            string               `json:"id"`
	FullName      string               `json:"fullName"`
	Phone         string               `json:"phone"`
	Email         string               `json:"email"`
	Status        model.CustomerStatus `json:"status"`
	EmailVerified bool                 `json:"emailVerified"`
}

func toCustomerJSON(c model.Customer) customerJSON {
	return customerJSON{
		ID:            c.ID,
		FullName:      c.FullName,
		Phone:         c.Phone,
		Email:         c.Email,
		Status:        c.Status,
		EmailVerified: c.EmailVerified,
	}
}

type serviceJSON struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	Price           int64  `json:"price"`
	IsActive        bool   `json:"isActive"`
}

func toServicesJSON(in []model.Service, activeOnly bool) []serviceJSON {
	out := make([]serviceJSON, 0, len(in))
	for _, s := range in {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, serviceJSON{
			ID:              s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
			IsActive:        s.IsActive,
		})
	}
	return out
}

type businessJSON struct {
	ID                  string      `json:"id"`
	PublicID            string      `json:"publicId"`
	Slug                string      `json:"slug"`
	Name                string      `json:"name"`
	Timezone            string      `json:"timezone"`
	Currency            string      `json:"currency"`
	ContactEmail        string      `json:"contactEmail"`
	Rules               model.Rules `json:"rules"`
	OnboardingCompleted bool        `json:"onboardingCompleted"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

func toBusinessJSON(b model.Business) businessJSON {
	return businessJSON{
		ID:                  b.ID,
		PublicID:            b.PublicID,
		Slug:                b.Slug,
		Name:                b.Name,
		Timezone:            b.Timezone,
		Currency:            b.Currency,
		ContactEmail:        b.ContactEmail,
		Rules:               b.Rules,
		OnboardingCompleted: b.OnboardingCompleted,
		CreatedAt:           b.CreatedAt.UTC(),
		UpdatedAt:           b.UpdatedAt.UTC(),
	}
}

// publicBusinessJSON leaves out internal ids and contact details.
type publicBusinessJSON struct {
	PublicID string      `json:"publicId"`
	Slug     string      `json:"slug"`
	Name     string      `json:"name"`
	Timezone string      `json:"timezone"`
	Currency string      `json:"currency"`
	Rules    model.Rules `json:"rules"`
}

type slotJSON struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func toSlotsJSON(in []availability.Slot) []slotJSON {
	out := make([]slotJSON, 0, len(in))
	for _, s := range in {
		out = append(out, slotJSON{StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return out
}

func nonNilWeek(in []model.AvailabilityDay) []model.AvailabilityDay {
	out := make([]model.AvailabilityDay, 0, len(in))
	for _, d := range in {
		if d.Windows == nil {
			d.Windows = []model.Window{}
		}
		out = append(out, d)
	}
	return out
}
