// Package booking admits, cancels, reschedules and transitions appointments.
// Every calendar mutation runs in one transaction holding the business lock;
// emails and cache invalidation happen after commit.
package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
)

// SlotCache stores busy-filtered slots for the public availability endpoint.
// Admission never reads it.
type SlotCache interface {
	// Get also returns the cache generation it read. Put must store under
	// that generation so results computed before an invalidation stay unseen.
	Get(ctx context.Context, b model.Business, serviceID string, date model.Date) ([]availability.Slot, int64, bool)
	Put(ctx context.Context, b model.Business, serviceID string, date model.Date, gen int64, slots []availability.Slot)
	Invalidate(ctx context.Context, businessID, date string)
}

// Notifier delivers customer emails.
type Notifier interface {
	Booked(ctx context.Context, b model.Business, a model.Appointment) error
	Cancelled(ctx context.Context, b model.Business, a model.Appointment) error
	Rescheduled(ctx context.Context, b model.Business, a, previous model.Appointment) error
}

// Observer receives admission and email outcomes, typically for metrics.
type Observer interface {
	Admission(source model.Source, result string)
	Email(kind string, err error)
}

type EmailResult struct {
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

type Config struct {
	EmailTimeout     time.Duration
	FreeMonthlyLimit int
	Now              func() time.Time
}

type Engine struct {
	store        storage.Store
	cache        SlotCache
	notifier     Notifier
	observer     Observer
	logger       *slog.Logger
	emailTimeout time.Duration
	freeLimit    int
	now          func() time.Time
}

func NewEngine(store storage.Store, cache SlotCache, notifier Notifier, observer Observer, logger *slog.Logger, cfg Config) *Engine {
	if cache == nil {
		cache = nopCache{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:        store,
		cache:        cache,
		notifier:     notifier,
		observer:     observer,
		logger:       logger,
		emailTimeout: cfg.EmailTimeout,
		freeLimit:    cfg.FreeMonthlyLimit,
		now:          cfg.Now,
	}
}

type CustomerInput struct {
	FullName string
	Phone    string
	Email    string
}

type AdmitRequest struct {
	BusinessID string
	ServiceID  string
	Date       string
	StartTime  string
	Customer   CustomerInput
	// CustomerID names an already verified customer (public flow). When empty
	// the customer is found by email, then phone, or created.
	CustomerID     string
	Notes          string
	Source         model.Source
	IdempotencyKey string
	Fingerprint    string
}

// Replay is a previously admitted request seen again under the same key.
// Body is nil when the response was never recorded; Appointment is then set.
type Replay struct {
	StatusCode  int
	Body        []byte
	Appointment model.Appointment
}

type AdmitResult struct {
	Appointment model.Appointment
	Customer    model.Customer
	Email       EmailResult
	Replay      *Replay
}

// Admit books a slot. Rule violations return *ConflictError or one of the
// sentinel errors; nothing is persisted unless the booking succeeds.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	date, err := model.ParseDate(req.Date)
	if err != nil {
		return AdmitResult{}, invalid("date", err.Error())
	}
	if _, err := model.ParseClock(req.StartTime, false); err != nil {
		return AdmitResult{}, invalid("startTime", err.Error())
	}
	if req.CustomerID == "" {
		if req.Customer.FullName == "" {
			return AdmitResult{}, invalid("customerFullName", "required")
		}
		if req.Customer.Email == "" && req.Customer.Phone == "" {
			return AdmitResult{}, invalid("customerPhone", "email or phone required")
		}
	}

	var (
		res AdmitResult
		biz model.Business
	)
	admit := func(q storage.Queries) error {
		res = AdmitResult{}
		b, err := lockBusiness(ctx, q, req.BusinessID)
		if err != nil {
			return err
		}
		biz = b

		if req.IdempotencyKey != "" {
			rec, existed, err := q.LockIdempotencyKey(ctx, b.ID, req.IdempotencyKey, req.Fingerprint)
			if err != nil {
				return err
			}
			if existed {
				if rec.Fingerprint != req.Fingerprint {
					return ErrIdempotencyKeyReused
				}
				replay := &Replay{StatusCode: rec.StatusCode, Body: rec.Response}
				if len(rec.Response) == 0 {
					appt, err := q.GetAppointment(ctx, b.ID, rec.AppointmentID)
					if err != nil {
						return err
					}
					replay.StatusCode = 201
					replay.Appointment = appt
				}
				res.Replay = replay
				return nil
			}
		}

		svc, err := q.GetService(ctx, b.ID, req.ServiceID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !svc.IsActive) {
			return ErrServiceNotFound
		}
		if err != nil {
			return err
		}
		loc, err := b.Location()
		if err != nil {
			return err
		}

		cust, err := resolveCustomer(ctx, q, b.ID, req)
		if err != nil {
			return err
		}
		if cust.Status == model.CustomerBlocked {
			return ErrCustomerBlocked
		}

		now := e.now()
		existing, err := q.ListCustomerAppointments(ctx, b.ID, cust.ID)
		if err != nil {
			return err
		}
		if err := evaluateRules(b.Rules, existing, svc.ID, date.String(), "", now, true); err != nil {
			return err
		}

		free, err := freeSlots(ctx, q, b.ID, loc, svc.DurationMinutes, date, "")
		if err != nil {
			return err
		}
		slot, ok := availability.Contains(availability.ExcludePast(free, now), req.StartTime)
		if !ok {
			return ErrSlotUnavailable
		}

		if err := e.checkPlanLimit(ctx, q, b.ID, loc, date); err != nil {
			return err
		}

		appt := model.Appointment{
			ID:               newID(),
			BusinessID:       b.ID,
			Date:             date.String(),
			StartTime:        slot.StartTime,
			EndTime:          slot.EndTime,
			StartAt:          slot.StartAt,
			EndAt:            slot.EndAt,
			ServiceID:        svc.ID,
			ServiceName:      svc.Name,
			CustomerID:       cust.ID,
			CustomerFullName: cust.FullName,
			CustomerPhone:    cust.Phone,
			CustomerEmail:    cust.Email,
			Status:           model.StatusBooked,
			Notes:            req.Notes,
			Source:           req.Source,
			CreatedAt:        now.UTC(),
			UpdatedAt:        now.UTC(),
		}
		if err := q.InsertAppointment(ctx, appt); err != nil {
			if errors.Is(err, storage.ErrSlotTaken) {
				return ErrSlotUnavailable
			}
			return err
		}
		if req.IdempotencyKey != "" {
			if err := q.FinalizeIdempotency(ctx, b.ID, req.IdempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		if err := writeEvent(ctx, q, EventBooked, appt, appointmentEvent{}); err != nil {
			return err
		}

		res.Appointment = appt
		res.Customer = cust
		return nil
	}
	err = e.store.WithTx(ctx, admit)
	if errors.Is(err, storage.ErrEmailTaken) {
		// A customer login created the same email after our lookup; the retry
		// finds that customer.
		err = e.store.WithTx(ctx, admit)
	}
	if err != nil {
		e.observer.Admission(req.Source, resultLabel(err))
		return AdmitResult{}, err
	}
	if res.Replay != nil {
		e.observer.Admission(req.Source, "replayed")
		return res, nil
	}
	e.observer.Admission(req.Source, "admitted")

	e.cache.Invalidate(ctx, biz.ID, res.Appointment.Date)
	res.Email = e.sendEmail(ctx, "booked", func(ctx context.Context) error {
		return e.notifier.Booked(ctx, biz, res.Appointment)
	})
	return res, nil
}

// RecordResponse stores the final response of an idempotent request so a
// replay returns it verbatim.
func (e *Engine) RecordResponse(ctx context.Context, businessID, key string, statusCode int, body []byte) error {
	if key == "" {
		return nil
	}
	return e.store.SaveIdempotentResponse(ctx, businessID, key, statusCode, body)
}

// Fingerprint identifies a request body for idempotency checks.
func Fingerprint(route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(route))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func lockBusiness(ctx context.Context, q storage.Queries, businessID string) (model.Business, error) {
	if err := q.LockBusiness(ctx, businessID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Business{}, ErrBusinessNotFound
		}
		return model.Business{}, err
	}
	return q.GetBusiness(ctx, businessID)
}

func resolveCustomer(ctx context.Context, q storage.Queries, businessID string, req AdmitRequest) (model.Customer, error) {
	in := req.Customer
	if req.CustomerID != "" {
		c, err := q.GetCustomer(ctx, businessID, req.CustomerID)
		if err != nil {
			return model.Customer{}, err
		}
		return refreshCustomer(ctx, q, c, in)
	}

	email := model.NormalizeEmail(in.Email)
	c, err := q.FindCustomerByEmail(ctx, businessID, email)
	if err == nil {
		return refreshCustomer(ctx, q, c, in)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Customer{}, err
	}
	if in.Phone != "" {
		c, err = q.FindCustomerByPhone(ctx, businessID, in.Phone)
		switch {
		case err == nil && (c.Email == "" || email == ""):
			return refreshCustomer(ctx, q, c, in)
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return model.Customer{}, err
		}
	}

	c = model.Customer{
		ID:         newID(),
		BusinessID: businessID,
		FullName:   in.FullName,
		Phone:      in.Phone,
		Email:      email,
		Status:     model.CustomerActive,
	}
	if err := q.InsertCustomer(ctx, c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

// refreshCustomer applies non-empty contact details from a booking form.
func refreshCustomer(ctx context.Context, q storage.Queries, c model.Customer, in CustomerInput) (model.Customer, error) {
	updated := c
	if in.FullName != "" {
		updated.FullName = in.FullName
	}
	if in.Phone != "" {
		updated.Phone = in.Phone
	}
	if updated.Email == "" && in.Email != "" {
		updated.Email = model.NormalizeEmail(in.Email)
	}
	if updated == c {
		return c, nil
	}
	if err := q.UpdateCustomer(ctx, updated); err != nil {
		return model.Customer{}, err
	}
	return updated, nil
}

// evaluateRules applies the business rules in order; the first violation wins.
func evaluateRules(rules model.Rules, existing []model.Appointment, serviceID, date, excludeID string, now time.Time, checkActive bool) error {
	if checkActive && rules.LimitCustomerToOneUpcomingAppointment {
		var active []model.Appointment
		for _, a := range existing {
			if a.ID != excludeID && a.Status == model.StatusBooked && a.Incoming(now) {
				active = append(active, a)
			}
		}
		if len(active) > 0 {
			return &ConflictError{Code: CodeActiveAppointmentExists, Existing: active}
		}
	}
	if rules.PreventSameServiceSameDay {
		var same []model.Appointment
		for _, a := range existing {
			if a.ID != excludeID && a.Status == model.StatusBooked && a.ServiceID == serviceID && a.Date == date {
				same = append(same, a)
			}
		}
		if len(same) > 0 {
			return &ConflictError{Code: CodeSameServiceSameDayExists, Existing: same}
		}
	}
	return nil
}

// freeSlots returns the slots of date not overlapping a BOOKED appointment
// other than excludeID. Past slots are still included.
func freeSlots(ctx context.Context, q storage.Queries, businessID string, loc *time.Location, durationMinutes int, date model.Date, excludeID string) ([]availability.Slot, error) {
	week, err := q.ListAvailability(ctx, businessID)
	if err != nil {
		return nil, err
	}
	candidates := availability.Candidates(loc, week, durationMinutes, date)
	from, to, ok := availability.Span(candidates)
	if !ok {
		return nil, nil
	}
	booked, err := q.ListBookedBetween(ctx, businessID, from, to)
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, a := range booked {
		if a.ID == excludeID {
			continue
		}
		busy = append(busy, availability.Interval{Start: a.StartAt, End: a.EndAt})
	}
	return availability.ExcludeBusy(candidates, busy), nil
}

func (e *Engine) checkPlanLimit(ctx context.Context, q storage.Queries, businessID string, loc *time.Location, date model.Date) error {
	limit := e.freeLimit
	ent, err := q.GetEntitlement(ctx, businessID)
	switch {
	case err == nil:
		if ent.MaxMonthlyAppointments > 0 {
			limit = ent.MaxMonthlyAppointments
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if limit <= 0 {
		return nil
	}

	first := model.Date{Year: date.Year, Month: date.Month, Day: 1}
	next := first.AddDays(32)
	next.Day = 1
	n, err := q.CountBookedBetween(ctx, businessID, startOfDay(first, loc), startOfDay(next, loc))
	if err != nil {
		return err
	}
	if n >= limit {
		return ErrPlanLimitReached
	}
	return nil
}

// startOfDay returns the first existing instant of d in loc; a few zones
// skip midnight on their DST date.
func startOfDay(d model.Date, loc *time.Location) time.Time {
	for m := 0; m < 4*60; m += 15 {
		if t, ok := d.At(m, loc); ok {
			return t
		}
	}
	t, _ := d.At(0, time.UTC)
	return t
}

func (e *Engine) sendEmail(ctx context.Context, kind string, send func(context.Context) error) EmailResult {
	if e.notifier == nil {
		return EmailResult{Sent: false, Error: "email is not configured"}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.emailTimeout)
	defer cancel()

	err := send(ctx)
	e.observer.Email(kind, err)
	if err != nil {
		e.logger.Warn("email send failed", "kind", kind, "err", err)
		return EmailResult{Sent: false, Error: err.Error()}
	}
	return EmailResult{Sent: true}
}

func resultLabel(err error) string {
	var (
		conflict *ConflictError
		invalid  *ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrPlanLimitReached):
		return "plan_limit"
	case errors.Is(err, ErrCustomerBlocked):
		return "blocked"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "idempotency_reused"
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrBusinessNotFound):
		return "not_found"
	}
	return "error"
}

type nopCache struct{}

func (nopCache) Get(context.Context, model.Business, string, model.Date) ([]availability.Slot, int64, bool) {
	return nil, -1, false
}

func (nopCache) Put(context.Context, model.Business, string, model.Date, int64, []availability.Slot) {}
func (nopCache) Invalidate(context.Context, string, string) {}

type nopObserver struct{}

func (nopObserver) Admission(model.Source, string) {}
func (nopObserver) Email(string, error) {}
