package handlers

import (
	"errors"
	"net/http"

	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/services/booking-service/internal/billing"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/customers"
	"github.com/bookwell/bookwell/services/booking-service/internal/export"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
)

const (
	codeSessionExpired       = "SESSION_EXPIRED"
	codeInvalidCode          = "INVALID_CODE"
	codeCodeExpired          = "CODE_EXPIRED"
	codeTooManyAttempts      = "TOO_MANY_ATTEMPTS"
	codeEmailAlreadyExists   = "EMAIL_ALREADY_EXISTS"
	codeCustomerNotFound     = "CUSTOMER_NOT_FOUND"
	codeSlugTaken            = "SLUG_TAKEN"
	codeServiceInUse         = "SERVICE_IN_USE"
	codeOnboardingIncomplete = "ONBOARDING_INCOMPLETE"
	codeInvalidSignature     = "INVALID_SIGNATURE"
)

type fieldsError struct {
	httpx.ErrorBody
	Fields map[string]string `json:"fields,omitempty"`
}

type conflictError struct {
	httpx.ErrorBody
	ExistingAppointments []appointmentJSON `json:"existingAppointments"`
}

type incompleteError struct {
	httpx.ErrorBody
	Missing []string `json:"missing"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var sentinelErrors = []errorMapping{
	{booking.ErrSlotUnavailable, http.StatusConflict, booking.CodeSlotNoLongerAvailable},
	{booking.ErrPlanLimitReached, http.StatusPaymentRequired, booking.CodePlanLimitReached},
	{booking.ErrCustomerBlocked, http.StatusForbidden, booking.CodeCustomerBlocked},
	{booking.ErrInvalidTransition, http.StatusUnprocessableEntity, booking.CodeInvalidStatusTransition},
	{booking.ErrNotCancellable, http.StatusConflict, booking.CodeAppointmentNotCancellable},
	{booking.ErrNotReschedulable, http.StatusConflict, booking.CodeAppointmentNotReschedulable},
	{booking.ErrAppointmentNotFound, http.StatusNotFound, booking.CodeAppointmentNotFound},
	{booking.ErrServiceNotFound, http.StatusNotFound, booking.CodeServiceNotFound},
	{onboarding.ErrServiceNotFound, http.StatusNotFound, booking.CodeServiceNotFound},
	{booking.ErrBusinessNotFound, http.StatusNotFound, booking.CodeBusinessNotFound},
	{booking.ErrIdempotencyKeyReused, http.StatusUnprocessableEntity, booking.CodeIdempotencyKeyReused},

	{customers.ErrRateLimited, http.StatusTooManyRequests, httpx.CodeRateLimited},
	{customers.ErrUnauthorized, http.StatusUnauthorized, httpx.CodeUnauthorized},
	{customers.ErrSessionExpired, http.StatusUnauthorized, codeSessionExpired},
	{customers.ErrEmailTaken, http.StatusConflict, codeEmailAlreadyExists},
	{storage.ErrEmailTaken, http.StatusConflict, codeEmailAlreadyExists},
	{customers.ErrEmailRequired, http.StatusBadRequest, httpx.CodeValidation},
	{customers.ErrCustomerNotFound, http.StatusNotFound, codeCustomerNotFound},
	{otp.ErrInvalidCode, http.StatusBadRequest, codeInvalidCode},
	{otp.ErrCodeExpired, http.StatusBadRequest, codeCodeExpired},
	{otp.ErrTooManyAttempts, http.StatusTooManyRequests, codeTooManyAttempts},

	{onboarding.ErrSlugTaken, http.StatusConflict, codeSlugTaken},
	{onboarding.ErrServiceInUse, http.StatusConflict, codeServiceInUse},
	{export.ErrRange, http.StatusBadRequest, httpx.CodeValidation},
	{billing.ErrInvalidSignature, http.StatusBadRequest, codeInvalidSignature},
	{billing.ErrNotConfigured, http.StatusServiceUnavailable, httpx.CodeUnavailable},
}

// writeError maps a domain error to its status and envelope. Unknown errors
// are logged and reported as INTERNAL.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict   *booking.ConflictError
		invalid    *booking.ValidationError
		badPatch   *onboarding.ValidationError
		incomplete *onboarding.IncompleteError
	)
	switch {
	case errors.As(err, &conflict):
		httpx.WriteJSON(w, http.StatusConflict, conflictError{
			ErrorBody:            httpx.NewErrorBody(conflict.Code, conflict.Error()),
			ExistingAppointments: toAppointmentsJSON(conflict.Existing, s.now()),
		})
		return
	case errors.As(err, &invalid):
		writeFields(w, invalid.Fields)
		return
	case errors.As(err, &badPatch):
		writeFields(w, badPatch.Fields)
		return
	case errors.As(err, &incomplete):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, incompleteError{
			ErrorBody: httpx.NewErrorBody(codeOnboardingIncomplete, "onboarding is incomplete"),
			Missing:   incomplete.Missing,
		})
		return
	}

	for _, m := range sentinelErrors {
		if errors.Is(err, m.target) {
			httpx.WriteError(w, m.status, m.code, m.target.Error())
			return
		}
	}

	s.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
}

func writeFields(w http.ResponseWriter, fields map[string]string) {
	httpx.WriteJSON(w, http.StatusBadRequest, fieldsError{
		ErrorBody: httpx.NewErrorBody(httpx.CodeValidation, "invalid request"),
		Fields:    fields,
	})
}
