// Package handlers is the REST surface of booking-service: the admin
// calendar, the public booking flow, onboarding and the billing webhook.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/services/booking-service/internal/billing"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/customers"
	"github.com/bookwell/bookwell/services/booking-service/internal/metrics"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	headerBusinessID       = "X-Business-Id"
	headerIdempotencyKey   = "Idempotency-Key"
	headerIdempotentReplay = "Idempotent-Replayed"
	sessionCookie          = "bw_session"

	maxIdempotencyKeyLen = 128
	maxBodyBytes         = 1 << 20
)

type Deps struct {
	Store      storage.Store
	Engine     *booking.Engine
	Customers  *customers.Service
	Onboarding *onboarding.Service
	Billing    *billing.Webhooks
	// Metrics is optional.
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	CookieSecure bool
	Now          func() time.Time
}

type Server struct {
	store        storage.Store
	engine       *booking.Engine
	customers    *customers.Service
	onboarding   *onboarding.Service
	billing      *billing.Webhooks
	metrics      *metrics.Metrics
	logger       *slog.Logger
	validate     *validator.Validate
	cookieSecure bool
	now          func() time.Time
}

func New(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Server{
		store:        d.Store,
		engine:       d.Engine,
		customers:    d.Customers,
		onboarding:   d.Onboarding,
		billing:      d.Billing,
		metrics:      d.Metrics,
		logger:       d.Logger,
		validate:     newValidator(),
		cookieSecure: d.CookieSecure,
		now:          d.Now,
	}
}

// Routes builds the router. Admin and onboarding routes trust the
// X-Business-Id header injected by the gateway after JWT verification.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithRequestID, httpx.WithAccessLog(s.logger), httpx.WithRecover(s.logger), httpx.WithBodyLimit(maxBodyBytes))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeMethodNotAllowed, "method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(requireBusiness)

		r.Route("/api/appointments", func(r chi.Router) {
			r.Get("/", s.listAppointments)
			r.Post("/create", s.createAppointment)
			r.Get("/available-times", s.availableTimes)
			r.Get("/export", s.exportAppointments)
			r.Post("/{id}/status", s.changeStatus)
			r.Post("/{id}/cancel", s.cancelAppointment)
			r.Post("/{id}/reschedule", s.rescheduleAppointment)
		})
		r.Route("/api/customers", func(r chi.Router) {
			r.Get("/", s.listCustomers)
			r.Post("/{id}/status", s.setCustomerStatus)
		})
		r.Route("/api/onboarding", func(r chi.Router) {
			r.Get("/", s.getOnboarding)
			r.Patch("/", s.patchOnboarding)
			r.Post("/complete", s.completeOnboarding)
		})
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/business/{ref}", s.publicBusiness)
		r.Get("/business/{ref}/availability", s.publicAvailability)
		r.Route("/booking", func(r chi.Router) {
			r.Post("/request-otp", s.requestOTP)
			r.Post("/login/verify-otp", s.verifyOTP)
			r.Post("/confirm", s.confirmBooking)
			r.Post("/cancel", s.publicCancel)
			r.Get("/me", s.me)
			r.Post("/disconnect", s.disconnect)
			r.Post("/profile/update", s.updateProfile)
			r.Post("/profile/verify-email", s.verifyEmail)
		})
	})

	r.Post("/api/billing/webhooks/stripe", s.stripeWebhook)
	return r
}

type ctxKey int

const ctxKeyBusinessID ctxKey = iota

func requireBusiness(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerBusinessID))
		if id == "" {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing business identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyBusinessID, id)))
	})
}

func businessID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyBusinessID).(string)
	return id
}

// decode reads a JSON body and validates it. It writes the failure response
// itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !httpx.DecodeJSON(w, r, dst) {
		return false
	}
	return s.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	raw, ok := readBody(w, r)
	if !ok {
		return false
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
			return false
		}
	}
	return s.check(w, dst)
}

func (s *Server) check(w http.ResponseWriter, dst any) bool {
	if err := s.validate.Struct(dst); err != nil {
		if fields := validationFields(err); fields != nil {
			writeFields(w, fields)
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request")
		return false
	}
	return true
}

// readBody buffers the body so it can be fingerprinted and decoded.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, httpx.CodeBodyTooLarge, "request body too large")
			return nil, false
		}
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "unreadable body")
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, true
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		writeFields(w, map[string]string{headerIdempotencyKey: "max"})
		return "", false
	}
	return key, true
}

// writeAdmitted answers a create or confirm call. Fresh results are recorded
// under the idempotency key before being written; replays are written as
// stored.
func (s *Server) writeAdmitted(w http.ResponseWriter, r *http.Request, businessID, key string, res booking.AdmitResult, extra func(*admittedResponse)) {
	if res.Replay != nil {
		w.Header().Set(headerIdempotentReplay, "true")
		if len(res.Replay.Body) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(res.Replay.StatusCode)
			_, _ = w.Write(res.Replay.Body)
			return
		}
		httpx.WriteJSON(w, res.Replay.StatusCode, admittedResponse{Appointment: toAppointmentJSON(res.Replay.Appointment, s.now())})
		return
	}

	email := res.Email
	out := admittedResponse{Appointment: toAppointmentJSON(res.Appointment, s.now()), Email: &email}
	if extra != nil {
		extra(&out)
	}
	body, err := json.Marshal(out)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body = append(body, '\n')
	if err := s.engine.RecordResponse(r.Context(), businessID, key, http.StatusCreated, body); err != nil {
		s.logger.Error("idempotent response not recorded", "err", err, "business_id", businessID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

type admittedResponse struct {
	Appointment appointmentJSON      `json:"appointment"`
	Email       *booking.EmailResult `json:"email,omitempty"`
	Customer    *customerJSON        `json:"customer,omitempty"`
}
