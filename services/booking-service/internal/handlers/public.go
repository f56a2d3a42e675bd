package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/customers"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/go-chi/chi/v5"
)

// liveBusiness resolves a business by slug or public id. Businesses that
// have not finished onboarding are reported as missing.
func (s *Server) liveBusiness(ctx context.Context, ref string, bySlug bool) (model.Business, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Business{}, booking.ErrBusinessNotFound
	}
	var (
		b   model.Business
		err error
	)
	if bySlug {
		b, err = s.store.GetBusinessBySlug(ctx, strings.ToLower(ref))
	} else {
		b, err = s.store.GetBusinessByPublicID(ctx, ref)
	}
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !b.OnboardingCompleted) {
		return model.Business{}, booking.ErrBusinessNotFound
	}
	return b, err
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(expires.Sub(s.now()).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) publicBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := s.liveBusiness(r.Context(), chi.URLParam(r, "ref"), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	services, err := s.store.ListServices(r.Context(), b.ID, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	week, err := s.store.ListAvailability(r.Context(), b.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"business": publicBusinessJSON{
			PublicID: b.PublicID,
			Slug:     b.Slug,
			Name:     b.Name,
			Timezone: b.Timezone,
			Currency: b.Currency,
			Rules:    b.Rules,
		},
		"services":     toServicesJSON(services, true),
		"availability": nonNilWeek(week),
	})
}

func (s *Server) publicAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := slotsQuery{Date: strings.TrimSpace(q.Get("date")), ServiceID: strings.TrimSpace(q.Get("serviceId"))}
	if !s.check(w, &in) {
		return
	}
	b, err := s.liveBusiness(r.Context(), chi.URLParam(r, "ref"), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	slots, err := s.engine.Slots(r.Context(), booking.SlotQuery{
		BusinessID: b.ID,
		ServiceID:  in.ServiceID,
		Date:       in.Date,
		Cached:     true,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": toSlotsJSON(slots)})
}

type requestOTPRequest struct {
	BusinessPublicID string `json:"businessPublicId" validate:"required"`
	Email            string `json:"email" validate:"required,email,max=254"`
}

func (s *Server) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.customers.RequestLoginCode(r.Context(), b, req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"expiresInSeconds": int(s.customers.CodeTTL().Seconds()),
	})
}

type verifyOTPRequest struct {
	BusinessPublicID string `json:"businessPublicId" validate:"required"`
	Email            string `json:"email" validate:"required,email,max=254"`
	Code             string `json:"code" validate:"required,max=16"`
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.customers.VerifyLogin(r.Context(), b, req.Email, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.SessionToken, res.ExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"customer":      toCustomerJSON(res.Customer),
		"sessionToken":  res.SessionToken,
		"isNewCustomer": res.IsNew,
	})
}

// currentCustomer authenticates the session of the request.
func (s *Server) currentCustomer(r *http.Request, b model.Business) (model.Customer, error) {
	_, c, err := s.customers.Authenticate(r.Context(), b, sessionToken(r))
	return c, err
}

type confirmRequest struct {
	BusinessPublicID string `json:"businessPublicId" validate:"required"`
	ServiceID        string `json:"serviceId" validate:"required"`
	Date             string `json:"date" validate:"required,date"`
	StartTime        string `json:"startTime" validate:"required,clock"`
	FullName         string `json:"fullName" validate:"required,max=120"`
	Phone            string `json:"phone" validate:"required,max=40"`
	Email            string `json:"email" validate:"omitempty,email,max=254"`
	Code             string `json:"code" validate:"omitempty,max=16"`
	Notes            string `json:"notes" validate:"max=2000"`
}

func (s *Server) confirmBooking(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cust, err := s.currentCustomer(r, b)
	if err != nil && req.Email != "" && req.Code != "" {
		var login customers.LoginResult
		login, err = s.customers.VerifyLogin(r.Context(), b, req.Email, req.Code)
		if err == nil {
			cust = login.Customer
			s.setSessionCookie(w, login.SessionToken, login.ExpiresAt)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Admit(r.Context(), booking.AdmitRequest{
		BusinessID: b.ID,
		ServiceID:  req.ServiceID,
		Date:       req.Date,
		StartTime:  req.StartTime,
		CustomerID: cust.ID,
		Customer: booking.CustomerInput{
			FullName: strings.TrimSpace(req.FullName),
			Phone:    strings.TrimSpace(req.Phone),
			Email:    cust.Email,
		},
		Notes:          strings.TrimSpace(req.Notes),
		Source:         model.SourcePublic,
		IdempotencyKey: key,
		Fingerprint:    booking.Fingerprint("public.confirm:"+cust.ID, raw),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAdmitted(w, r, b.ID, key, res, func(out *admittedResponse) {
		c := toCustomerJSON(res.Customer)
		out.Customer = &c
	})
}

type publicCancelRequest struct {
	BusinessPublicID string `json:"businessPublicId" validate:"required"`
	AppointmentID    string `json:"appointmentId" validate:"required"`
}

func (s *Server) publicCancel(w http.ResponseWriter, r *http.Request) {
	var req publicCancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cust, err := s.currentCustomer(r, b)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Cancel(r.Context(), booking.CancelRequest{
		BusinessID:    b.ID,
		AppointmentID: req.AppointmentID,
		By:            model.CancelledByCustomer,
		CustomerID:    cust.ID,
		Notify:        true,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cancelResponse{
		Appointment:     toAppointmentJSON(res.Appointment, s.now()),
		AlreadyCanceled: res.AlreadyCanceled,
		Email:           res.Email,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, ok := customers.ParseScope(q.Get("scope"))
	if !ok {
		writeFields(w, map[string]string{"scope": "oneof"})
		return
	}
	b, err := s.liveBusiness(r.Context(), q.Get("businessPublicId"), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cust, err := s.currentCustomer(r, b)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	appts, err := s.customers.Appointments(r.Context(), b.ID, cust.ID, scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"customer":     toCustomerJSON(cust),
		"appointments": toAppointmentsJSON(appts, s.now()),
	})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.customers.Disconnect(r.Context(), sessionToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type updateProfileRequest struct {
	BusinessPublicID string  `json:"businessPublicId" validate:"required"`
	FullName         *string `json:"fullName" validate:"omitempty,max=120"`
	Phone            *string `json:"phone" validate:"omitempty,max=40"`
	Email            *string `json:"email" validate:"omitempty,email,max=254"`
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cust, err := s.currentCustomer(r, b)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, pending, err := s.customers.UpdateProfile(r.Context(), b, cust, customers.ProfileUpdate{
		FullName: req.FullName,
		Phone:    req.Phone,
		Email:    req.Email,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":                        true,
		"customer":                  toCustomerJSON(updated),
		"emailVerificationRequired": pending,
	})
}

type verifyEmailRequest struct {
	BusinessPublicID string `json:"businessPublicId" validate:"required"`
	Email            string `json:"email" validate:"required,email,max=254"`
	Code             string `json:"code" validate:"required,max=16"`
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.liveBusiness(r.Context(), req.BusinessPublicID, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cust, err := s.currentCustomer(r, b)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.customers.VerifyEmailChange(r.Context(), b, cust, req.Email, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "customer": toCustomerJSON(updated)})
}
