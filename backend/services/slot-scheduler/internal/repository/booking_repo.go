package repository

import (
	"context"
	"database/sql"
	"time"

	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// BookingRepository reads bookings and runs the expiration transaction.
type BookingRepository struct {
	db *sql.DB
}

var (
	_ store.Bookings = (*BookingRepository)(nil)
	_ store.TxRunner = (*BookingRepository)(nil)
)

// NewBookingRepository returns repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindExpirable returns open, unexpired bookings whose end_time is before now.
func (r *BookingRepository) FindExpirable(ctx context.Context, now time.Time) ([]models.Booking, error) {
	const query = `
		SELECT id, owner_id, station_id, slot_id, time_slot_id, start_time, end_time, status, is_expired, expired_at, created_at, updated_at
		FROM bookings
		WHERE is_expired = FALSE
		  AND status IN ($2, $3)
		  AND end_time < $1
		ORDER BY end_time, id
	`
	rows, err := r.db.QueryContext(ctx, query, now,
		string(models.BookingPending),
		string(models.BookingApproved),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var (
			b         models.Booking
			expiredAt sql.NullTime
		)
		if err := rows.Scan(
			&b.ID,
			&b.OwnerID,
			&b.StationID,
			&b.SlotID,
			&b.TimeSlotID,
			&b.StartTime,
			&b.EndTime,
			&b.Status,
			&b.IsExpired,
			&expiredAt,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if expiredAt.Valid {
			t := expiredAt.Time
			b.ExpiredAt = &t
		}
		b.StartTime = b.StartTime.UTC()
		b.EndTime = b.EndTime.UTC()
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// WithinTx runs fn in a database transaction. The transaction commits when fn returns nil
// and rolls back otherwise.
func (r *BookingRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &bookingTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

type bookingTx struct {
	tx *sql.Tx
}

func (t *bookingTx) ExpireBooking(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	const query = `
		UPDATE bookings
		SET status = $2,
		    is_expired = TRUE,
		    expired_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND is_expired = FALSE
		  AND status IN ($4, $5)
	`
	result, err := t.tx.ExecContext(ctx, query, bookingID,
		string(models.BookingExpired),
		at,
		string(models.BookingPending),
		string(models.BookingApproved),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *bookingTx) ReleaseTimeSlot(ctx context.Context, timeSlotID string) (bool, error) {
	const query = `UPDATE time_slots SET status = $2 WHERE id = $1`
	result, err := t.tx.ExecContext(ctx, query, timeSlotID, string(models.TimeSlotAvailable))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
