// Package jobs holds the time-slot lifecycle jobs and the runtime that schedules them.
package jobs

import (
	"context"
	"sort"
	"time"
)

const (
	NameGenerator  = "generator"
	NameBackfill   = "backfill"
	NameExpiration = "expiration"
	NameReconciler = "reconciler"
)

// Report counters.
const (
	CountDeleted          = "deleted"
	CountDuplicates       = "duplicates"
	CountGenerated        = "generated"
	CountSlots            = "slots"
	CountDays             = "days"
	CountFound            = "found"
	CountExpired          = "expired"
	CountPruned           = "pruned"
	CountAlreadyFinalized = "already_finalized"
	CountIntegrity        = "integrity"
	CountFailed           = "failed"
	CountReleased         = "released"
	CountRelinked         = "relinked"
)

// windowCounters change the set or state of time slots when non-zero.
var windowCounters = []string{CountDeleted, CountDuplicates, CountGenerated, CountExpired, CountReleased}

// Job is one unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Report describes one run of a job.
type Report struct {
	Job        string           `json:"job"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Counts     map[string]int64 `json:"counts"`
	Skipped    bool             `json:"skipped,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Add increments a counter.
func (r *Report) Add(key string, n int64) {
	if r.Counts == nil {
		r.Counts = make(map[string]int64)
	}
	r.Counts[key] += n
}

// Count returns a counter, zero when never set.
func (r Report) Count(key string) int64 {
	return r.Counts[key]
}

// Duration of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the run ended with an error.
func (r Report) Failed() bool {
	return r.Error != ""
}

// MutatedWindows reports whether the run changed any time slot.
func (r Report) MutatedWindows() bool {
	for _, k := range windowCounters {
		if r.Counts[k] > 0 {
			return true
		}
	}
	return false
}

// Keys returns counter names in stable order.
func (r Report) Keys() []string {
	keys := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Observer is notified after every run.
type Observer interface {
	ObserveRun(ctx context.Context, report Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, report Report)

// ObserveRun calls f.
func (f ObserverFunc) ObserveRun(ctx context.Context, report Report) {
	f(ctx, report)
}

// jobFunc wraps a named run function.
type jobFunc struct {
	name string
	run  func(ctx context.Context) (Report, error)
}

func (j jobFunc) Name() string                            { return j.name }
func (j jobFunc) Run(ctx context.Context) (Report, error) { return j.run(ctx) }
