package booking

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultHorizonDays bounds how far ahead candidate dates are derived.
	DefaultHorizonDays = 14
	// DefaultGraceWindow is the buffer before a same-day slot's start time
	// after which the slot is no longer offered.
	DefaultGraceWindow = 15 * time.Minute
)

// ErrInvalidAvailability wraps every validation failure of a submitted
// weekly template. Validation runs before any storage call.
var ErrInvalidAvailability = errors.New("invalid availability")

var weekdays = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// ParseWeekday maps a weekday label ("Monday".."Sunday") to time.Weekday.
func ParseWeekday(label string) (time.Weekday, error) {
	d, ok := weekdays[label]
	if !ok {
		return 0, fmt.Errorf("unrecognized weekday %q", label)
	}
	return d, nil
}

// ValidSlotLabel reports whether label is a well-formed "15:04" time of day.
func ValidSlotLabel(label string) bool {
	if len(label) != len(SlotLabelFormat) {
		return false
	}
	_, err := time.Parse(SlotLabelFormat, label)
	return err == nil
}

// ValidateAvailability checks a submitted weekly template: every weekday
// label must be recognized and appear at most once, and every slot label must
// be a well-formed time of day, unique within its weekday.
func ValidateAvailability(av Availability) error {
	seenDays := make(map[time.Weekday]bool, len(av))
	for _, day := range av {
		wd, err := ParseWeekday(day.Weekday)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAvailability, err)
		}
		if seenDays[wd] {
			return fmt.Errorf("%w: duplicate weekday %q", ErrInvalidAvailability, day.Weekday)
		}
		seenDays[wd] = true

		seenSlots := make(map[string]bool, len(day.Slots))
		for _, slot := range day.Slots {
			if !ValidSlotLabel(slot) {
				return fmt.Errorf("%w: malformed slot label %q on %s", ErrInvalidAvailability, slot, day.Weekday)
			}
			if seenSlots[slot] {
				return fmt.Errorf("%w: duplicate slot %q on %s", ErrInvalidAvailability, slot, day.Weekday)
			}
			seenSlots[slot] = true
		}
	}
	return nil
}

// SlotsForDate returns the template slots scheduled on date's weekday, in
// template order, or nil when the doctor has no entry for that weekday.
func SlotsForDate(av Availability, date time.Time) []string {
	weekday := date.Weekday()
	for _, day := range av {
		wd, err := ParseWeekday(day.Weekday)
		if err != nil {
			continue
		}
		if wd == weekday {
			return day.Slots
		}
	}
	return nil
}

// CandidateDates walks from forward for horizonDays calendar days and
// returns, in chronological order, every date whose weekday has a template
// entry. Pure function; from's time-of-day is discarded.
func CandidateDates(av Availability, from time.Time, horizonDays int) []time.Time {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	working := make(map[time.Weekday]bool, len(av))
	for _, day := range av {
		if wd, err := ParseWeekday(day.Weekday); err == nil {
			working[wd] = true
		}
	}

	start := Midnight(from)
	var dates []time.Time
	for i := 0; i < horizonDays; i++ {
		d := start.AddDate(0, 0, i)
		if working[d.Weekday()] {
			dates = append(dates, d)
		}
	}
	return dates
}

// UpcomingSlots applies the same-day cutoff: when date falls on the same
// calendar day as now, slots starting before now+grace are dropped. Future
// dates pass through untouched.
func UpcomingSlots(slots []string, date, now time.Time, grace time.Duration) []string {
	if !SameDay(date, now) {
		return slots
	}

	cutoff := now.Add(grace)
	kept := make([]string, 0, len(slots))
	for _, slot := range slots {
		t, err := time.Parse(SlotLabelFormat, slot)
		if err != nil {
			continue
		}
		start := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !start.Before(cutoff) {
			kept = append(kept, slot)
		}
	}
	return kept
}

// Midnight truncates t to the start of its calendar day, keeping the
// location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
