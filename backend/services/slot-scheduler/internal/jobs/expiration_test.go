package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/repository/memory"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

func heldWindow(id string, startAt time.Time) models.TimeSlot {
	return models.TimeSlot{
		ID:        id,
		StationID: "st-1",
		SlotID:    "sl-1",
		StartTime: startAt,
		EndTime:   startAt.Add(2 * time.Hour),
		Status:    models.TimeSlotBooked,
	}
}

func bookingFor(id string, ts models.TimeSlot, status models.BookingStatus) models.Booking {
	return models.Booking{
		ID:         id,
		OwnerID:    "owner-1",
		StationID:  ts.StationID,
		SlotID:     ts.SlotID,
		TimeSlotID: ts.ID,
		StartTime:  ts.StartTime,
		EndTime:    ts.EndTime,
		Status:     status,
		CreatedAt:  ts.StartTime.Add(-24 * time.Hour),
		UpdatedAt:  ts.StartTime.Add(-24 * time.Hour),
	}
}

func newExpiration(t *testing.T, st *memory.Store, tx store.TxRunner, events BookingEvents) (*Expiration, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(start)
	return NewExpiration(st, tx, clk, testZone(), events, zaptest.NewLogger(t)), clk
}

func TestExpirationExpiresBookingAndFreesWindow(t *testing.T) {
	st := memory.New()
	ts := heldWindow("ts-1", start.Add(-3*time.Hour))
	st.PutTimeSlot(ts)
	st.PutBooking(bookingFor("bk-1", ts, models.BookingApproved))
	events := &recordedEvents{}

	job, _ := newExpiration(t, st, st, events)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountFound))
	assert.EqualValues(t, 1, report.Count(CountExpired))

	b, _ := st.Booking("bk-1")
	assert.Equal(t, models.BookingExpired, b.Status)
	assert.True(t, b.IsExpired)
	require.NotNil(t, b.ExpiredAt)
	assert.Equal(t, start, *b.ExpiredAt)
	assert.Equal(t, start, b.UpdatedAt)

	w, _ := st.TimeSlot("ts-1")
	assert.Equal(t, models.TimeSlotAvailable, w.Status)

	require.Len(t, events.bookings, 1)
	assert.Equal(t, "bk-1", events.bookings[0].ID)
	assert.Equal(t, models.BookingExpired, events.bookings[0].Status)
}

func TestExpirationIgnoresBookingEndingExactlyNow(t *testing.T) {
	st := memory.New()
	ts := heldWindow("ts-1", start.Add(-2*time.Hour))
	st.PutTimeSlot(ts)
	st.PutBooking(bookingFor("bk-1", ts, models.BookingPending))

	job, clk := newExpiration(t, st, st, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Count(CountExpired))

	clk.Advance(time.Nanosecond)
	report, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountExpired))
}

func TestExpirationSkipsNonExpirableStatuses(t *testing.T) {
	st := memory.New()
	for i, status := range []models.BookingStatus{models.BookingCharging, models.BookingCompleted, models.BookingCancelled} {
		ts := heldWindow(string(rune('a'+i)), start.Add(-5*time.Hour))
		st.PutTimeSlot(ts)
		st.PutBooking(bookingFor(string(status), ts, status))
	}

	job, _ := newExpiration(t, st, st, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Count(CountFound))

	b, _ := st.Booking(string(models.BookingCompleted))
	assert.Equal(t, models.BookingCompleted, b.Status)
}

func TestExpirationIsAtomicOnFailure(t *testing.T) {
	st := memory.New()
	bad := heldWindow("ts-bad", start.Add(-4*time.Hour))
	good := heldWindow("ts-good", start.Add(-6*time.Hour))
	st.PutTimeSlot(bad)
	st.PutTimeSlot(good)
	st.PutBooking(bookingFor("bk-bad", bad, models.BookingApproved))
	st.PutBooking(bookingFor("bk-good", good, models.BookingApproved))

	failing := &failingTxRunner{inner: st, failFor: map[string]bool{"ts-bad": true}}
	job, _ := newExpiration(t, st, failing, nil)

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountFailed))
	assert.EqualValues(t, 1, report.Count(CountExpired))

	b, _ := st.Booking("bk-bad")
	assert.Equal(t, models.BookingApproved, b.Status)
	assert.False(t, b.IsExpired)
	assert.Nil(t, b.ExpiredAt)
	w, _ := st.TimeSlot("ts-bad")
	assert.Equal(t, models.TimeSlotBooked, w.Status)

	g, _ := st.Booking("bk-good")
	assert.Equal(t, models.BookingExpired, g.Status)

	// The failed booking is picked up again once the store recovers.
	retry, _ := newExpiration(t, st, st, nil)
	report, err = retry.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountExpired))
	b, _ = st.Booking("bk-bad")
	assert.True(t, b.IsExpired)
	w, _ = st.TimeSlot("ts-bad")
	assert.Equal(t, models.TimeSlotAvailable, w.Status)
}

func TestExpirationLeavesBookingWithMissingWindowUntouched(t *testing.T) {
	st := memory.New()
	// Started today, so the window cannot have been pruned.
	ts := heldWindow("ts-gone", start.Add(-3*time.Hour))
	st.PutBooking(bookingFor("bk-1", ts, models.BookingApproved))

	job, _ := newExpiration(t, st, st, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountIntegrity))
	assert.Zero(t, report.Count(CountExpired))

	b, _ := st.Booking("bk-1")
	assert.Equal(t, models.BookingApproved, b.Status)
	assert.False(t, b.IsExpired)
}

func TestExpirationExpiresBookingWhoseWindowWasPruned(t *testing.T) {
	st := memory.New()
	ts := heldWindow("ts-pruned", start.Add(-48*time.Hour))
	st.PutBooking(bookingFor("bk-1", ts, models.BookingPending))

	job, _ := newExpiration(t, st, st, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountExpired))
	assert.EqualValues(t, 1, report.Count(CountPruned))

	b, _ := st.Booking("bk-1")
	assert.Equal(t, models.BookingExpired, b.Status)
}

func TestExpirationWithoutWindowReference(t *testing.T) {
	st := memory.New()
	b := bookingFor("bk-1", heldWindow("", start.Add(-5*time.Hour)), models.BookingApproved)
	st.PutBooking(b)

	job, _ := newExpiration(t, st, st, nil)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountIntegrity))

	got, _ := st.Booking("bk-1")
	assert.Equal(t, models.BookingApproved, got.Status)
}

func TestExpirationSecondProcessingIsNoop(t *testing.T) {
	st := memory.New()
	ts := heldWindow("ts-1", start.Add(-3*time.Hour))
	st.PutTimeSlot(ts)
	b := bookingFor("bk-1", ts, models.BookingApproved)
	st.PutBooking(b)

	first, _ := newExpiration(t, st, st, nil)
	_, err := first.Run(context.Background())
	require.NoError(t, err)
	expired, _ := st.Booking("bk-1")

	// A second instance still holding the stale read.
	clk := clock.NewManual(start.Add(time.Minute))
	second := NewExpiration(staleBookings{list: []models.Booking{b}}, st, clk, testZone(), nil, zaptest.NewLogger(t))
	report, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Count(CountAlreadyFinalized))
	assert.Zero(t, report.Count(CountExpired))

	again, _ := st.Booking("bk-1")
	assert.Equal(t, expired, again)
}
