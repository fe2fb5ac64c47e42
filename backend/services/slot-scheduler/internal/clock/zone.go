package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

// Zone anchors civil days and times of day to a named timezone. Storage stays in UTC.
type Zone struct {
	loc      *time.Location
	name     string
	fallback bool
}

// LoadZone resolves name as an IANA zone. When that fails the fixed fallbackOffset
// (for example "+05:30") is used instead; an empty fallback makes the failure fatal.
func LoadZone(name, fallbackOffset string) (*Zone, error) {
	loc, loadErr := time.LoadLocation(strings.TrimSpace(name))
	if loadErr == nil {
		return &Zone{loc: loc, name: loc.String()}, nil
	}

	fallbackOffset = strings.TrimSpace(fallbackOffset)
	if fallbackOffset == "" {
		return nil, fmt.Errorf("clock: resolve zone %q: %w", name, loadErr)
	}
	seconds, err := ParseOffset(fallbackOffset)
	if err != nil {
		return nil, fmt.Errorf("clock: zone %q unavailable and fallback invalid: %w", name, err)
	}
	label := "UTC" + formatOffset(seconds)
	return &Zone{loc: time.FixedZone(label, seconds), name: label, fallback: true}, nil
}

// FixedZone builds a zone with a constant offset from UTC.
func FixedZone(name string, offset time.Duration) *Zone {
	return &Zone{loc: time.FixedZone(name, int(offset/time.Second)), name: name}
}

// Name returns the resolved zone name.
func (z *Zone) Name() string { return z.name }

// Fallback reports whether the fixed-offset fallback is in use.
func (z *Zone) Fallback() bool { return z.fallback }

// Location returns the underlying location.
func (z *Zone) Location() *time.Location { return z.loc }

// Today returns local midnight of the civil day containing now.
func (z *Zone) Today(now time.Time) time.Time {
	l := now.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.loc)
}

// AddDays moves a civil day by n calendar days.
func (z *Zone) AddDays(day time.Time, n int) time.Time {
	l := day.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day()+n, 0, 0, 0, 0, z.loc)
}

// DayBounds returns the UTC half-open interval [start, end) covering the civil day.
func (z *Zone) DayBounds(day time.Time) (time.Time, time.Time) {
	l := day.In(z.loc)
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.loc)
	end := time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, z.loc)
	return start.UTC(), end.UTC()
}

// At converts a local wall-clock offset on the civil day to UTC.
func (z *Zone) At(day time.Time, offset time.Duration) time.Time {
	l := day.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, int(offset/time.Second), 0, z.loc).UTC()
}

// NextAt returns the first instant strictly after now whose local time of day is offset.
func (z *Zone) NextAt(now time.Time, offset time.Duration) time.Time {
	today := z.Today(now)
	next := z.At(today, offset)
	if !next.After(now) {
		next = z.At(z.AddDays(today, 1), offset)
	}
	return next
}

// ParseDate reads a YYYY-MM-DD civil date in the zone.
func (z *Zone) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(value), z.loc)
}

// FormatDate renders the civil day as YYYY-MM-DD.
func (z *Zone) FormatDate(day time.Time) string {
	return day.In(z.loc).Format(dateLayout)
}

// ParseClock reads a "HH:MM" time of day into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("clock: %q is not HH:MM", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock: invalid hour in %q", value)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock: invalid minute in %q", value)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// ParseOffset reads "+HH:MM", "-HH:MM" or "HH:MM" into seconds east of UTC.
func ParseOffset(value string) (int, error) {
	sign := 1
	switch {
	case strings.HasPrefix(value, "-"):
		sign = -1
		value = value[1:]
	case strings.HasPrefix(value, "+"):
		value = value[1:]
	}
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("clock: offset %q is not ±HH:MM", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return 0, fmt.Errorf("clock: invalid offset hours %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock: invalid offset minutes %q", mm)
	}
	return sign * (h*3600 + m*60), nil
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}
