package booking

import (
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

var transitions = map[model.Status][]model.Status{
	model.StatusBooked:    {model.StatusCompleted, model.StatusNoShow, model.StatusCanceled},
	model.StatusCompleted: {model.StatusCanceled, model.StatusNoShow},
	model.StatusCanceled:  {model.StatusCompleted, model.StatusNoShow},
	model.StatusNoShow:    {model.StatusCompleted, model.StatusCanceled},
}

// CheckTransition validates from -> to. Same-status requests are reported as
// a no-op; nothing leads back to BOOKED.
func CheckTransition(from, to model.Status) (noop bool, err error) {
	if from == to {
		return true, nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return false, nil
		}
	}
	return false, ErrInvalidTransition
}

// CancelRequiresConfirmation is true for appointments that would free a
// future slot.
func CancelRequiresConfirmation(a model.Appointment, now time.Time) bool {
	return a.Status == model.StatusBooked && a.Incoming(now)
}
