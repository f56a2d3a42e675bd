package booking

import (
	"context"
	"errors"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
)

func loadAppointment(ctx context.Context, q storage.Queries, businessID, id string) (model.Appointment, error) {
	a, err := q.GetAppointment(ctx, businessID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return a, err
}

// applyStatus moves a to status. Cancellation metadata exists only while the
// appointment is CANCELED.
func applyStatus(a model.Appointment, to model.Status, by model.CancelledBy, now time.Time) model.Appointment {
	a.Status = to
	if to == model.StatusCanceled {
		at := now.UTC()
		a.CancelledBy = by
		a.CancelledAt = &at
	} else {
		a.CancelledBy = ""
		a.CancelledAt = nil
	}
	a.UpdatedAt = now.UTC()
	return a
}

func writeStatusEvents(ctx context.Context, q storage.Queries, a model.Appointment, previous model.Status) error {
	if err := writeEvent(ctx, q, EventStatusChanged, a, appointmentEvent{PreviousStatus: string(previous)}); err != nil {
		return err
	}
	if a.Status == model.StatusCanceled {
		return writeEvent(ctx, q, EventCancelled, a, appointmentEvent{PreviousStatus: string(previous)})
	}
	return nil
}

// ChangeStatus applies an admin status change. Repeating the current status
// is a no-op.
func (e *Engine) ChangeStatus(ctx context.Context, businessID, appointmentID string, to model.Status) (model.Appointment, error) {
	var (
		out      model.Appointment
		previous model.Status
		changed  bool
	)
	err := e.store.WithTx(ctx, func(q storage.Queries) error {
		if _, err := lockBusiness(ctx, q, businessID); err != nil {
			return err
		}
		a, err := loadAppointment(ctx, q, businessID, appointmentID)
		if err != nil {
			return err
		}
		noop, err := CheckTransition(a.Status, to)
		if err != nil {
			return err
		}
		if noop {
			out = a
			return nil
		}

		previous = a.Status
		a = applyStatus(a, to, model.CancelledByBusiness, e.now())
		if err := q.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if err := writeStatusEvents(ctx, q, a, previous); err != nil {
			return err
		}
		out, changed = a, true
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if changed && previous == model.StatusBooked {
		e.cache.Invalidate(ctx, businessID, out.Date)
	}
	return out, nil
}

type CancelRequest struct {
	BusinessID    string
	AppointmentID string
	By            model.CancelledBy
	// CustomerID must own the appointment when By is CUSTOMER.
	CustomerID string
	Notify     bool
}

type CancelResult struct {
	Appointment     model.Appointment
	AlreadyCanceled bool
	Email           *EmailResult
}

// Cancel is idempotent: an already CANCELED appointment is returned as is,
// without email or event.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	var (
		res      CancelResult
		biz      model.Business
		previous model.Status
	)
	err := e.store.WithTx(ctx, func(q storage.Queries) error {
		b, err := lockBusiness(ctx, q, req.BusinessID)
		if err != nil {
			return err
		}
		biz = b
		a, err := loadAppointment(ctx, q, b.ID, req.AppointmentID)
		if err != nil {
			return err
		}

		now := e.now()
		if req.By == model.CancelledByCustomer && a.CustomerID != req.CustomerID {
			return ErrNotCancellable
		}
		if a.Status == model.StatusCanceled {
			res.Appointment = a
			res.AlreadyCanceled = true
			return nil
		}
		if req.By == model.CancelledByCustomer && (a.Status != model.StatusBooked || !a.Incoming(now)) {
			return ErrNotCancellable
		}
		if _, err := CheckTransition(a.Status, model.StatusCanceled); err != nil {
			return err
		}

		previous = a.Status
		a = applyStatus(a, model.StatusCanceled, req.By, now)
		if err := q.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if err := writeStatusEvents(ctx, q, a, previous); err != nil {
			return err
		}
		res.Appointment = a
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if res.AlreadyCanceled {
		return res, nil
	}
	if previous == model.StatusBooked {
		e.cache.Invalidate(ctx, biz.ID, res.Appointment.Date)
	}
	if req.Notify {
		email := e.sendEmail(ctx, "cancelled", func(ctx context.Context) error {
			return e.notifier.Cancelled(ctx, biz, res.Appointment)
		})
		res.Email = &email
	}
	return res, nil
}

type RescheduleRequest struct {
	BusinessID    string
	AppointmentID string
	Date          string
	StartTime     string
	Notify        bool
}

type RescheduleResult struct {
	Appointment model.Appointment
	Previous    model.Appointment
	Unchanged   bool
	Email       *EmailResult
}

// Reschedule moves a BOOKED appointment. The same-service rule and slot
// availability are rechecked without counting the appointment itself.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	date, err := model.ParseDate(req.Date)
	if err != nil {
		return RescheduleResult{}, invalid("date", err.Error())
	}
	if _, err := model.ParseClock(req.StartTime, false); err != nil {
		return RescheduleResult{}, invalid("startTime", err.Error())
	}

	var (
		res RescheduleResult
		biz model.Business
	)
	err = e.store.WithTx(ctx, func(q storage.Queries) error {
		b, err := lockBusiness(ctx, q, req.BusinessID)
		if err != nil {
			return err
		}
		biz = b
		a, err := loadAppointment(ctx, q, b.ID, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusBooked {
			return ErrNotReschedulable
		}
		if a.Date == date.String() && a.StartTime == req.StartTime {
			res.Appointment, res.Previous, res.Unchanged = a, a, true
			return nil
		}

		svc, err := q.GetService(ctx, b.ID, a.ServiceID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrServiceNotFound
		}
		if err != nil {
			return err
		}
		loc, err := b.Location()
		if err != nil {
			return err
		}

		now := e.now()
		existing, err := q.ListCustomerAppointments(ctx, b.ID, a.CustomerID)
		if err != nil {
			return err
		}
		if err := evaluateRules(b.Rules, existing, svc.ID, date.String(), a.ID, now, false); err != nil {
			return err
		}
		free, err := freeSlots(ctx, q, b.ID, loc, svc.DurationMinutes, date, a.ID)
		if err != nil {
			return err
		}
		slot, ok := availability.Contains(availability.ExcludePast(free, now), req.StartTime)
		if !ok {
			return ErrSlotUnavailable
		}

		previous := a
		a.Date = date.String()
		a.StartTime, a.EndTime = slot.StartTime, slot.EndTime
		a.StartAt, a.EndAt = slot.StartAt, slot.EndAt
		a.UpdatedAt = now.UTC()
		if err := q.UpdateAppointment(ctx, a); err != nil {
			if errors.Is(err, storage.ErrSlotTaken) {
				return ErrSlotUnavailable
			}
			return err
		}
		if err := writeEvent(ctx, q, EventRescheduled, a, appointmentEvent{
			PreviousDate:      previous.Date,
			PreviousStartTime: previous.StartTime,
		}); err != nil {
			return err
		}
		res.Appointment, res.Previous = a, previous
		return nil
	})
	if err != nil {
		return RescheduleResult{}, err
	}
	if res.Unchanged {
		return res, nil
	}

	e.cache.Invalidate(ctx, biz.ID, res.Previous.Date)
	if res.Appointment.Date != res.Previous.Date {
		e.cache.Invalidate(ctx, biz.ID, res.Appointment.Date)
	}
	if req.Notify {
		email := e.sendEmail(ctx, "rescheduled", func(ctx context.Context) error {
			return e.notifier.Rescheduled(ctx, biz, res.Appointment, res.Previous)
		})
		res.Email = &email
	}
	return res, nil
}

type SlotQuery struct {
	BusinessID string
	ServiceID  string
	Date       string
	// ExcludeAppointmentID frees the slot of an appointment being rescheduled.
	ExcludeAppointmentID string
	// Cached serves from and fills the slot cache.
	Cached bool
}

// Slots lists the bookable slots of a service on a date.
func (e *Engine) Slots(ctx context.Context, sq SlotQuery) ([]availability.Slot, error) {
	date, err := model.ParseDate(sq.Date)
	if err != nil {
		return nil, invalid("date", err.Error())
	}
	b, err := e.store.GetBusiness(ctx, sq.BusinessID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	svc, err := e.store.GetService(ctx, b.ID, sq.ServiceID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !svc.IsActive && sq.ExcludeAppointmentID == "") {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	loc, err := b.Location()
	if err != nil {
		return nil, err
	}

	now := e.now()
	useCache := sq.Cached && sq.ExcludeAppointmentID == ""
	gen := int64(-1)
	if useCache {
		var (
			slots []availability.Slot
			ok    bool
		)
		if slots, gen, ok = e.cache.Get(ctx, b, svc.ID, date); ok {
			return availability.ExcludePast(slots, now), nil
		}
	}
	free, err := freeSlots(ctx, e.store, b.ID, loc, svc.DurationMinutes, date, sq.ExcludeAppointmentID)
	if err != nil {
		return nil, err
	}
	if useCache {
		e.cache.Put(ctx, b, svc.ID, date, gen, free)
	}
	return availability.ExcludePast(free, now), nil
}
