package model

import (
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata for %s unavailable: %v", name, err)
	}
	return loc
}

func TestDateAtSkipsSpringForwardGap(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	d := Date{Year: 2026, Month: time.March, Day: 8}

	if _, ok := d.At(2*60+30, loc); ok {
		t.Fatal("02:30 does not exist on the spring-forward date")
	}
	got, ok := d.At(3*60+30, loc)
	if !ok {
		t.Fatal("03:30 should exist")
	}
	if want := time.Date(2026, 3, 8, 7, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got.UTC())
	}
}

func TestDateAtResolvesAmbiguousToFirstOccurrence(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	got, ok := Date{Year: 2026, Month: time.November, Day: 1}.At(90, ny)
	if !ok || !got.Equal(time.Date(2026, 11, 1, 5, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected 05:30Z (EDT), got %s ok=%v", got.UTC(), ok)
	}

	berlin := mustLoad(t, "Europe/Berlin")
	got, ok = Date{Year: 2026, Month: time.October, Day: 25}.At(150, berlin)
	if !ok || !got.Equal(time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected 00:30Z (CEST), got %s ok=%v", got.UTC(), ok)
	}
}

func TestDateAtEndOfDay(t *testing.T) {
	d := Date{Year: 2026, Month: time.December, Day: 31}
	got, ok := d.At(MinutesPerDay, time.UTC)
	if !ok || !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end of day %s", got)
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in    string
		eod   bool
		want  int
		valid bool
	}{
		{"09:00", false, 540, true},
		{"23:59", false, 1439, true},
		{"24:00", true, 1440, true},
		{"24:00", false, 0, false},
		{"24:30", true, 0, false},
		{"9:00", false, 0, false},
		{"09:60", false, 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in, tc.eod)
		if tc.valid != (err == nil) || (tc.valid && got != tc.want) {
			t.Fatalf("ParseClock(%q, %v) = %d, %v", tc.in, tc.eod, got, err)
		}
	}
	if FormatClock(1440) != "24:00" || FormatClock(65) != "01:05" {
		t.Fatal("FormatClock mismatch")
	}
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.AddDays(1).String() != "2026-03-01" || d.Weekday() != time.Saturday {
		t.Fatalf("unexpected date math for %s", d)
	}
	if d.DaysUntil(d.AddDays(92)) != 92 {
		t.Fatal("DaysUntil mismatch")
	}
	if _, err := ParseDate("2026-13-01"); err == nil {
		t.Fatal("expected invalid month error")
	}
}
