package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// Reconciler frees any time slot still held after it ended.
type Reconciler struct {
	timeSlots store.TimeSlots
	clock     clock.Clock
	logger    *zap.Logger
}

// NewReconciler returns the job.
func NewReconciler(timeSlots store.TimeSlots, clk clock.Clock, logger *zap.Logger) *Reconciler {
	return &Reconciler{timeSlots: timeSlots, clock: clk, logger: logger.Named(NameReconciler)}
}

// Name implements Job.
func (r *Reconciler) Name() string { return NameReconciler }

// Run issues a single bulk update.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report
	released, err := r.timeSlots.ReleaseEnded(ctx, r.clock.Now())
	if err != nil {
		return report, fmt.Errorf("release ended time slots: %w", err)
	}
	report.Add(CountReleased, released)
	if released > 0 {
		r.logger.Info("released ended time slots", zap.Int64("count", released))
	}
	return report, nil
}
