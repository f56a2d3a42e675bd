package availability

import (
	"testing"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
)

func weekdays(windows ...model.Window) []model.AvailabilityDay {
	week := make([]model.AvailabilityDay, 7)
	for d := 0; d < 7; d++ {
		week[d] = model.AvailabilityDay{Day: d}
		if d >= 1 && d <= 5 {
			week[d].Enabled = true
			week[d].Windows = windows
		}
	}
	return week
}

var monday = model.Date{Year: 2026, Month: time.March, Day: 2}

func TestComputeSlots_FullMonday(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "17:00"})
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	slots := ComputeSlots(time.UTC, week, 30, monday, nil, now)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	if slots[0].StartTime != "09:00" || slots[15].StartTime != "16:30" || slots[15].EndTime != "17:00" {
		t.Fatalf("unexpected bounds %s..%s", slots[0].StartTime, slots[15].EndTime)
	}
}

func TestComputeSlots_DisabledDayIsEmpty(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "17:00"})
	sunday := monday.AddDays(-1)
	if got := ComputeSlots(time.UTC, week, 30, sunday, nil, time.Time{}); len(got) != 0 {
		t.Fatalf("expected no slots on Sunday, got %d", len(got))
	}
}

func TestComputeSlots_StopsWhenSlotExceedsWindow(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "10:00"})
	slots := ComputeSlots(time.UTC, week, 45, monday, nil, time.Time{})
	if len(slots) != 1 || slots[0].EndTime != "09:45" {
		t.Fatalf("expected a single 09:00-09:45 slot, got %+v", slots)
	}
}

func TestComputeSlots_ExcludesBusy(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "10:00"})
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := ComputeSlots(time.UTC, week, 15, monday, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[0].StartTime != "09:00" || slots[1].StartTime != "09:45" {
		t.Fatalf("unexpected slots %+v", slots)
	}
}

func TestComputeSlots_SkipsPast(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "10:00"})
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	slots := ComputeSlots(time.UTC, week, 15, monday, nil, now)
	// 09:30 starts exactly at now and is excluded with the earlier ones.
	if len(slots) != 1 || slots[0].StartTime != "09:45" {
		t.Fatalf("expected only 09:45, got %+v", slots)
	}
}

func TestComputeSlots_PastDateIsEmpty(t *testing.T) {
	week := weekdays(model.Window{Start: "09:00", End: "17:00"})
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := ComputeSlots(time.UTC, week, 30, monday, nil, now); len(got) != 0 {
		t.Fatalf("expected no slots on a past date, got %d", len(got))
	}
}

func TestComputeSlots_SpringForwardSkipsMissingTimes(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	week := make([]model.AvailabilityDay, 7)
	for d := range week {
		week[d] = model.AvailabilityDay{Day: d, Enabled: true, Windows: []model.Window{{Start: "01:00", End: "04:00"}}}
	}
	sunday := model.Date{Year: 2026, Month: time.March, Day: 8}

	slots := ComputeSlots(loc, week, 30, sunday, nil, time.Time{})
	var starts []string
	for _, s := range slots {
		starts = append(starts, s.StartTime)
	}
	// 01:30-02:00 ends inside the gap; 02:00 and 02:30 do not exist.
	want := []string{"01:00", "03:00", "03:30"}
	if len(starts) != len(want) {
		t.Fatalf("expected %v, got %v", want, starts)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, starts)
		}
	}
}

func TestComputeSlots_FallBackGeneratesEachWallTimeOnce(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	week := make([]model.AvailabilityDay, 7)
	for d := range week {
		week[d] = model.AvailabilityDay{Day: d, Enabled: true, Windows: []model.Window{{Start: "00:00", End: "03:00"}}}
	}
	sunday := model.Date{Year: 2026, Month: time.November, Day: 1}

	slots := ComputeSlots(loc, week, 30, sunday, nil, time.Time{})
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}
	seen := map[string]bool{}
	for i, s := range slots {
		if seen[s.StartTime] {
			t.Fatalf("duplicate slot %s", s.StartTime)
		}
		seen[s.StartTime] = true
		if i > 0 && slots[i-1].EndAt.After(s.StartAt) {
			t.Fatalf("slots %d and %d overlap", i-1, i)
		}
	}
	// 01:00 resolves to the first (EDT) occurrence.
	if !slots[2].StartAt.Equal(time.Date(2026, 11, 1, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected 01:00 instant %s", slots[2].StartAt)
	}
}

func TestComputeSlots_Properties(t *testing.T) {
	cases := []struct {
		windows  []model.Window
		duration int
	}{
		{[]model.Window{{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "17:30"}}, 25},
		{[]model.Window{{Start: "00:00", End: "24:00"}}, 60},
		{[]model.Window{{Start: "08:15", End: "09:00"}}, 45},
		{[]model.Window{{Start: "10:00", End: "10:50"}, {Start: "11:00", End: "20:00"}}, 50},
	}
	for _, tc := range cases {
		week := weekdays(tc.windows...)
		slots := ComputeSlots(time.UTC, week, tc.duration, monday, nil, time.Time{})
		if len(slots) == 0 {
			t.Fatalf("windows %v with duration %d produced no slots", tc.windows, tc.duration)
		}
		for i, s := range slots {
			if i > 0 && slots[i-1].EndAt.After(s.StartAt) {
				t.Fatalf("overlap between %s and %s", slots[i-1].StartTime, s.StartTime)
			}
			if !insideWindow(t, s, tc.windows) {
				t.Fatalf("slot %s-%s outside windows %v", s.StartTime, s.EndTime, tc.windows)
			}
			if s.EndAt.Sub(s.StartAt) != time.Duration(tc.duration)*time.Minute {
				t.Fatalf("slot %s has wrong length", s.StartTime)
			}
		}
	}
}

func insideWindow(t *testing.T, s Slot, windows []model.Window) bool {
	t.Helper()
	start, _ := model.ParseClock(s.StartTime, false)
	end, _ := model.ParseClock(s.EndTime, true)
	for _, w := range windows {
		ws, _ := model.ParseClock(w.Start, false)
		we, _ := model.ParseClock(w.End, true)
		if start >= ws && end <= we {
			return true
		}
	}
	return false
}
