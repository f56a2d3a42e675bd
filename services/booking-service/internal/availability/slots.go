package availability

import (
	"sort"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable range. StartTime/EndTime are wall-clock values in the
// business zone; StartAt/EndAt are the instants they resolve to.
type Slot struct {
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
}

// ComputeSlots returns the free slots of a service on date, excluding slots
// that overlap busy or start at or before now.
func ComputeSlots(loc *time.Location, week []model.AvailabilityDay, durationMinutes int, date model.Date, busy []Interval, now time.Time) []Slot {
	return ExcludePast(ExcludeBusy(Candidates(loc, week, durationMinutes, date), busy), now)
}

// Candidates generates every slot the weekly windows allow on date, before
// bookings and the clock are taken into account.
func Candidates(loc *time.Location, week []model.AvailabilityDay, durationMinutes int, date model.Date) []Slot {
	if durationMinutes <= 0 {
		return nil
	}
	day, ok := dayFor(week, date.Weekday())
	if !ok || !day.Enabled || len(day.Windows) == 0 {
		return nil
	}

	var slots []Slot
	for _, w := range day.Windows {
		start, err := model.ParseClock(w.Start, false)
		if err != nil {
			continue
		}
		end, err := model.ParseClock(w.End, true)
		if err != nil || end <= start {
			continue
		}
		for m := start; m+durationMinutes <= end; m += durationMinutes {
			startAt, ok := date.At(m, loc)
			if !ok {
				continue
			}
			endAt, ok := date.At(m+durationMinutes, loc)
			if !ok || !endAt.After(startAt) {
				continue
			}
			slots = append(slots, Slot{
				StartTime: model.FormatClock(m),
				EndTime:   model.FormatClock(m + durationMinutes),
				StartAt:   startAt.UTC(),
				EndAt:     endAt.UTC(),
			})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].StartAt.Before(slots[j].StartAt) })
	return dropOverlapping(slots)
}

// Span returns the instant range covered by slots; ok is false when empty.
func Span(slots []Slot) (from, to time.Time, ok bool) {
	if len(slots) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from, to = slots[0].StartAt, slots[0].EndAt
	for _, s := range slots[1:] {
		if s.StartAt.Before(from) {
			from = s.StartAt
		}
		if s.EndAt.After(to) {
			to = s.EndAt
		}
	}
	return from, to, true
}

func ExcludeBusy(slots []Slot, busy []Interval) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !overlapsAny(s.StartAt, s.EndAt, busy) {
			out = append(out, s)
		}
	}
	return out
}

func ExcludePast(slots []Slot, now time.Time) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.StartAt.After(now) {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether slots offers startTime.
func Contains(slots []Slot, startTime string) (Slot, bool) {
	for _, s := range slots {
		if s.StartTime == startTime {
			return s, true
		}
	}
	return Slot{}, false
}

func dayFor(week []model.AvailabilityDay, wd time.Weekday) (model.AvailabilityDay, bool) {
	for _, d := range week {
		if d.Day == int(wd) {
			return d, true
		}
	}
	return model.AvailabilityDay{}, false
}

// dropOverlapping keeps the earlier slot when a fall-back hour makes two
// windows resolve onto the same instants.
func dropOverlapping(sorted []Slot) []Slot {
	out := sorted[:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && s.StartAt.Before(out[n-1].EndAt) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
