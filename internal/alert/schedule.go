package alert

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time at minute resolution, stored as minutes
// since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("alert: invalid time of day %q (want HH:MM)", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is like ParseTimeOfDay but panics on error. Intended for
// constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the minute-resolution time of day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// WeekdaySet is a set of weekdays.
type WeekdaySet uint8

// AllDays contains every weekday.
const AllDays WeekdaySet = 1<<7 - 1

var weekdayAbbrev = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseWeekday parses a three-letter English abbreviation ("Mon") or a full
// day name ("Monday"), case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.TrimSpace(s)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, weekdayAbbrev[d]) || strings.EqualFold(name, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("alert: invalid weekday %q", s)
}

// NewWeekdaySet returns a set holding days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// ParseWeekdaySet parses a list of day names with [ParseWeekday].
func ParseWeekdaySet(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return 0, err
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Names returns the abbreviated day names in Monday-first order, matching the
// order users configure them in.
func (s WeekdaySet) Names() []string {
	out := make([]string, 0, 7)
	for i := range 7 {
		d := time.Weekday((i + 1) % 7)
		if s.Has(d) {
			out = append(out, weekdayAbbrev[d])
		}
	}
	return out
}

// Schedule restricts monitoring to a daily time window on selected weekdays.
// A Schedule value is an immutable snapshot; changes replace it wholesale.
type Schedule struct {
	Enabled bool
	Start   TimeOfDay
	End     TimeOfDay
	Days    WeekdaySet
}

// DefaultSchedule returns the out-of-the-box schedule: disabled, with a
// 22:00–07:00 overnight window on every day ready to be switched on.
func DefaultSchedule() Schedule {
	return Schedule{
		Enabled: false,
		Start:   22 * 60,
		End:     7 * 60,
		Days:    AllDays,
	}
}

// IsActive reports whether monitoring should run at now under cfg.
//
// A disabled schedule is always active. Otherwise now's weekday must be
// selected and its time of day (truncated to the minute) must fall inside
// [Start, End]. When Start is after End the window wraps past midnight, and
// the weekday check applies to the calendar day of now, not the day the
// window opened.
func IsActive(cfg Schedule, now time.Time) bool {
	if !cfg.Enabled {
		return true
	}
	if !cfg.Days.Has(now.Weekday()) {
		return false
	}
	t := TimeOfDayOf(now)
	if cfg.Start <= cfg.End {
		return cfg.Start <= t && t <= cfg.End
	}
	return t >= cfg.Start || t <= cfg.End
}
