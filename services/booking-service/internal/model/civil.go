package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

// Date is a calendar day without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", raw)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf returns the civil date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Weekday() time.Weekday {
	return d.utc().Weekday()
}

func (d Date) AddDays(n int) Date {
	y, m, day := d.utc().AddDate(0, 0, n).Date()
	return Date{Year: y, Month: m, Day: day}
}

func (d Date) Before(o Date) bool {
	return d.utc().Before(o.utc())
}

// DaysUntil returns the number of days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(o.utc().Sub(d.utc()).Hours() / 24)
}

// At resolves the civil time d+minute in loc. minute may be MinutesPerDay,
// meaning midnight of the next day. It returns false when the wall-clock time
// does not exist (DST gap). An ambiguous time resolves to its first occurrence.
func (d Date) At(minute int, loc *time.Location) (time.Time, bool) {
	civil := d.utc().Add(time.Duration(minute) * time.Minute)
	wall := civil.Unix()

	var (
		best  time.Time
		found bool
	)
	// The instant lies within wall-14h..wall+12h. Try every offset in effect
	// over that span; a candidate is valid when its own offset is the one
	// used to derive it.
	seen := make(map[int]bool, 2)
	for probe := wall - 15*3600; probe <= wall+15*3600; probe += 3 * 3600 {
		_, offset := time.Unix(probe, 0).In(loc).Zone()
		if seen[offset] {
			continue
		}
		seen[offset] = true
		candidate := time.Unix(wall-int64(offset), 0).In(loc)
		if _, got := candidate.Zone(); got != offset {
			continue
		}
		if !found || candidate.Before(best) {
			best, found = candidate, true
		}
	}
	return best, found
}

// ParseClock parses "HH:mm" into minutes after midnight. "24:00" is accepted
// only when allowEndOfDay is set.
func ParseClock(raw string, allowEndOfDay bool) (int, error) {
	raw = strings.TrimSpace(raw)
	h, m, ok := strings.Cut(raw, ":")
	if !ok || len(h) != 2 || len(m) != 2 {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", raw)
	}
	hours, err1 := strconv.Atoi(h)
	mins, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hours < 0 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", raw)
	}
	total := hours*60 + mins
	if hours > 23 && !(allowEndOfDay && total == MinutesPerDay) {
		return 0, fmt.Errorf("invalid time %q (want HH:mm)", raw)
	}
	return total, nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
