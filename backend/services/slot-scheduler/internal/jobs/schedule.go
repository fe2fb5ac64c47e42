package jobs

import (
	"time"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
)

// Schedule decides how long to wait before the next run.
type Schedule interface {
	Next(now time.Time, failed bool) time.Duration
}

// Interval runs every Every, or after RetryDelay when the last run failed.
type Interval struct {
	Every      time.Duration
	RetryDelay time.Duration
}

// Next implements Schedule.
func (s Interval) Next(_ time.Time, failed bool) time.Duration {
	if failed && s.RetryDelay > 0 && s.RetryDelay < s.Every {
		return s.RetryDelay
	}
	return s.Every
}

// Daily runs at a local time of day. A failed run is retried after RetryDelay unless the
// regular trigger comes first.
type Daily struct {
	Zone       *clock.Zone
	At         time.Duration
	RetryDelay time.Duration
}

// Next implements Schedule.
func (s Daily) Next(now time.Time, failed bool) time.Duration {
	wait := s.Zone.NextAt(now, s.At).Sub(now)
	if failed && s.RetryDelay > 0 && s.RetryDelay < wait {
		return s.RetryDelay
	}
	return wait
}
