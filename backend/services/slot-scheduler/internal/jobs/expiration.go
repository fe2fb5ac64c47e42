package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// BookingEvents receives bookings after their expiration committed.
type BookingEvents interface {
	BookingExpired(ctx context.Context, booking models.Booking) error
}

// Expiration closes open bookings whose window has ended and frees the window in the same
// transaction.
type Expiration struct {
	bookings store.Bookings
	tx       store.TxRunner
	clock    clock.Clock
	zone     *clock.Zone
	events   BookingEvents
	logger   *zap.Logger
}

// NewExpiration returns the job. events may be nil.
func NewExpiration(bookings store.Bookings, tx store.TxRunner, clk clock.Clock, zone *clock.Zone, events BookingEvents, logger *zap.Logger) *Expiration {
	return &Expiration{
		bookings: bookings,
		tx:       tx,
		clock:    clk,
		zone:     zone,
		events:   events,
		logger:   logger.Named(NameExpiration),
	}
}

// Name implements Job.
func (e *Expiration) Name() string { return NameExpiration }

// Run expires every qualifying booking. A failing booking is counted and left for the next
// run; only the initial query fails the run.
func (e *Expiration) Run(ctx context.Context) (Report, error) {
	var report Report
	now := e.clock.Now()

	bookings, err := e.bookings.FindExpirable(ctx, now)
	if err != nil {
		return report, fmt.Errorf("find expirable bookings: %w", err)
	}
	report.Add(CountFound, int64(len(bookings)))

	// Windows of days before today may already be pruned by the generator.
	dayStart, _ := e.zone.DayBounds(e.zone.Today(now))

	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := e.logger.With(zap.String("booking_id", b.ID), zap.String("time_slot_id", b.TimeSlotID))

		if b.TimeSlotID == "" {
			report.Add(CountIntegrity, 1)
			log.Warn("booking has no time slot reference, left untouched")
			continue
		}

		pruned, err := e.expire(ctx, b, now, dayStart)
		switch {
		case errors.Is(err, store.ErrAlreadyFinalized):
			report.Add(CountAlreadyFinalized, 1)
			log.Debug("booking already finalized")
			continue
		case errors.Is(err, store.ErrTimeSlotMissing):
			report.Add(CountIntegrity, 1)
			log.Warn("referenced time slot missing, booking left untouched")
			continue
		case err != nil:
			report.Add(CountFailed, 1)
			log.Error("expire booking", zap.Error(err))
			continue
		}

		report.Add(CountExpired, 1)
		if pruned {
			report.Add(CountPruned, 1)
			log.Info("booking expired, time slot already pruned")
		}

		if e.events != nil {
			b.Status = models.BookingExpired
			b.IsExpired = true
			expiredAt := now
			b.ExpiredAt = &expiredAt
			b.UpdatedAt = now
			if err := e.events.BookingExpired(ctx, b); err != nil {
				log.Warn("publish booking expired", zap.Error(err))
			}
		}
	}

	if n := report.Count(CountExpired); n > 0 {
		e.logger.Info("bookings expired", zap.Int64("count", n))
	}
	return report, nil
}

func (e *Expiration) expire(ctx context.Context, b models.Booking, now, dayStart time.Time) (bool, error) {
	var pruned bool
	err := e.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pruned = false
		ok, err := tx.ExpireBooking(ctx, b.ID, now)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if !ok {
			return store.ErrAlreadyFinalized
		}

		released, err := tx.ReleaseTimeSlot(ctx, b.TimeSlotID)
		if err != nil {
			return fmt.Errorf("release time slot: %w", err)
		}
		if !released {
			if b.StartTime.Before(dayStart) {
				pruned = true
				return nil
			}
			return store.ErrTimeSlotMissing
		}
		return nil
	})
	return pruned, err
}
