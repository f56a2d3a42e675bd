package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/export"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/go-chi/chi/v5"
)

type listAppointmentsQuery struct {
	Date string `json:"date" validate:"required,date"`
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := listAppointmentsQuery{Date: strings.TrimSpace(q.Get("date"))}
	if !s.check(w, &in) {
		return
	}
	var filter storage.AppointmentFilter
	if raw := q.Get("status"); raw != "" {
		st, ok := model.ParseStatus(raw)
		if !ok {
			writeFields(w, map[string]string{"status": "oneof"})
			return
		}
		filter.Status = st
	}
	filter.Query = strings.TrimSpace(q.Get("q"))

	appts, err := s.store.ListAppointmentsByDate(r.Context(), businessID(r), in.Date, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": toAppointmentsJSON(appts, s.now())})
}

type createAppointmentRequest struct {
	Date             string `json:"date" validate:"required,date"`
	ServiceID        string `json:"serviceId" validate:"required"`
	StartTime        string `json:"startTime" validate:"required,clock"`
	CustomerFullName string `json:"customerFullName" validate:"required,max=120"`
	CustomerPhone    string `json:"customerPhone" validate:"required_without=CustomerEmail,max=40"`
	CustomerEmail    string `json:"customerEmail" validate:"omitempty,email,max=254"`
	Notes            string `json:"notes" validate:"max=2000"`
}

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !s.decode(w, r, &req) {
		return
	}

	bizID := businessID(r)
	res, err := s.engine.Admit(r.Context(), booking.AdmitRequest{
		BusinessID: bizID,
		ServiceID:  req.ServiceID,
		Date:       req.Date,
		StartTime:  req.StartTime,
		Customer: booking.CustomerInput{
			FullName: strings.TrimSpace(req.CustomerFullName),
			Phone:    strings.TrimSpace(req.CustomerPhone),
			Email:    strings.TrimSpace(req.CustomerEmail),
		},
		Notes:          strings.TrimSpace(req.Notes),
		Source:         model.SourceAdmin,
		IdempotencyKey: key,
		Fingerprint:    booking.Fingerprint("admin.create", raw),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAdmitted(w, r, bizID, key, res, nil)
}

func (s *Server) availableTimes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := slotsQuery{Date: strings.TrimSpace(q.Get("date")), ServiceID: strings.TrimSpace(q.Get("serviceId"))}
	if !s.check(w, &in) {
		return
	}
	slots, err := s.engine.Slots(r.Context(), booking.SlotQuery{
		BusinessID:           businessID(r),
		ServiceID:            in.ServiceID,
		Date:                 in.Date,
		ExcludeAppointmentID: strings.TrimSpace(q.Get("excludeAppointmentId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": toSlotsJSON(slots)})
}

type slotsQuery struct {
	Date      string `json:"date" validate:"required,date"`
	ServiceID string `json:"serviceId" validate:"required"`
}

func (s *Server) exportAppointments(w http.ResponseWriter, r *http.Request) {
	from, to, err := export.ParseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		if errors.Is(err, export.ErrRange) {
			s.writeError(w, r, err)
			return
		}
		writeFields(w, map[string]string{"range": err.Error()})
		return
	}
	b, err := s.store.GetBusiness(r.Context(), businessID(r))
	if errors.Is(err, storage.ErrNotFound) {
		err = booking.ErrBusinessNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(r.Context(), &buf, s.store, b, from, to); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(b, from, to)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	to, ok := model.ParseStatus(req.Status)
	if !ok {
		writeFields(w, map[string]string{"status": "oneof"})
		return
	}
	a, err := s.engine.ChangeStatus(r.Context(), businessID(r), chi.URLParam(r, "id"), to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": toAppointmentJSON(a, s.now())})
}

type cancelRequest struct {
	NotifyCustomer bool `json:"notifyCustomer"`
}

type cancelResponse struct {
	Appointment     appointmentJSON      `json:"appointment"`
	AlreadyCanceled bool                 `json:"alreadyCanceled"`
	Email           *booking.EmailResult `json:"email,omitempty"`
}

func (s *Server) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	res, err := s.engine.Cancel(r.Context(), booking.CancelRequest{
		BusinessID:    businessID(r),
		AppointmentID: chi.URLParam(r, "id"),
		By:            model.CancelledByBusiness,
		Notify:        req.NotifyCustomer,
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

type rescheduleRequest struct {
	Date           string `json:"date" validate:"required,date"`
	StartTime      string `json:"startTime" validate:"required,clock"`
	NotifyCustomer *bool  `json:"notifyCustomer"`
}

func (s *Server) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	notify := true
	if req.NotifyCustomer != nil {
		notify = *req.NotifyCustomer
	}
	res, err := s.engine.Reschedule(r.Context(), booking.RescheduleRequest{
		BusinessID:    businessID(r),
		AppointmentID: chi.URLParam(r, "id"),
		Date:          req.Date,
		StartTime:     req.StartTime,
		Notify:        notify,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Appointment appointmentJSON      `json:"appointment"`
		Email       *booking.EmailResult `json:"email,omitempty"`
	}{toAppointmentJSON(res.Appointment, s.now()), res.Email})
}

func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.customers.List(r.Context(), businessID(r), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]customerJSON, 0, len(list))
	for _, c := range list {
		out = append(out, toCustomerJSON(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"customers": out})
}

type customerStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE BLOCKED"`
}

func (s *Server) setCustomerStatus(w http.ResponseWriter, r *http.Request) {
	var req customerStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.customers.SetStatus(r.Context(), businessID(r), chi.URLParam(r, "id"), model.CustomerStatus(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"customer": toCustomerJSON(c)})
}
