// Package store declares the persistence contracts the lifecycle jobs run against. The
// Postgres repositories and the in-memory store both satisfy them.
package store

import (
	"context"
	"errors"
	"time"

	"chargeslots/backend/services/slot-scheduler/internal/models"
)

var (
	// ErrTimeSlotMissing means a booking references a time slot that does not exist.
	ErrTimeSlotMissing = errors.New("store: referenced time slot missing")
	// ErrAlreadyFinalized means the booking was closed by someone else first.
	ErrAlreadyFinalized = errors.New("store: booking already finalized")
)

// DuplicateGroup lists time slots sharing (station, slot, start, end). IDs are in retention
// order: IDs[0] is the canonical row, the rest are surplus.
type DuplicateGroup struct {
	StationID string
	SlotID    string
	StartTime time.Time
	EndTime   time.Time
	IDs       []string
}

// Surplus returns the ids that should be removed.
func (g DuplicateGroup) Surplus() []string {
	if len(g.IDs) < 2 {
		return nil
	}
	return g.IDs[1:]
}

// TimeSlots manages bookable windows.
type TimeSlots interface {
	DeleteStartingBetween(ctx context.Context, from, to time.Time) (int64, error)
	FindDuplicates(ctx context.Context) ([]DuplicateGroup, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	ExistsStartingBetween(ctx context.Context, from, to time.Time) (bool, error)
	InsertMany(ctx context.Context, slots []models.TimeSlot) error
	// ReleaseEnded sets every non-available window that ended before the given instant
	// back to available and returns how many rows changed.
	ReleaseEnded(ctx context.Context, before time.Time) (int64, error)
	ListStartingBetween(ctx context.Context, stationID, slotID string, from, to time.Time, onlyAvailable bool) ([]models.TimeSlot, error)
}

// Slots reads physical slots and links them to generated windows.
type Slots interface {
	List(ctx context.Context) ([]models.Slot, error)
	AttachTimeSlots(ctx context.Context, slotID string, timeSlotIDs []string, at time.Time) error
}

// Bookings finds reservations that outlived their window.
type Bookings interface {
	FindExpirable(ctx context.Context, now time.Time) ([]models.Booking, error)
}

// Tx is the set of writes allowed inside a booking transaction.
type Tx interface {
	// ExpireBooking closes an open, not yet expired booking. It reports false when the
	// booking no longer qualifies.
	ExpireBooking(ctx context.Context, bookingID string, at time.Time) (bool, error)
	// ReleaseTimeSlot marks the window available. It reports false when the window is gone.
	ReleaseTimeSlot(ctx context.Context, timeSlotID string) (bool, error)
}

// TxRunner executes fn inside one transaction, committing when fn returns nil and rolling
// back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
