package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/repository/memory"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// Noon local time on 2025-10-10 in +05:30.
var start = time.Date(2025, 10, 10, 6, 30, 0, 0, time.UTC)

func testZone() *clock.Zone {
	return clock.FixedZone("UTC+05:30", 5*time.Hour+30*time.Minute)
}

func defaultSessions() []time.Duration {
	starts := make([]time.Duration, 10)
	for i := range starts {
		starts[i] = time.Hour + 15*time.Minute + time.Duration(i)*(2*time.Hour+15*time.Minute)
	}
	return starts
}

type fixture struct {
	store *memory.Store
	clock *clock.Manual
	zone  *clock.Zone
	gen   *Generator
	seq   atomic.Int64
}

func newFixture(t *testing.T, slots ...models.Slot) *fixture {
	t.Helper()
	st := memory.New()
	for _, s := range slots {
		st.PutSlot(s)
	}
	f := &fixture{store: st, clock: clock.NewManual(start), zone: testZone()}
	f.gen = f.generator(t, st, st)
	return f
}

// generator builds a generator over the given stores sharing the fixture's clock and ids.
func (f *fixture) generator(t *testing.T, timeSlots store.TimeSlots, slots store.Slots) *Generator {
	t.Helper()
	gen, err := NewGenerator(timeSlots, slots, f.clock, f.zone, GeneratorConfig{
		HorizonDays:     7,
		SessionStarts:   defaultSessions(),
		SessionDuration: 2 * time.Hour,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	gen.newID = f.nextID
	return gen
}

func (f *fixture) nextID() string {
	return fmt.Sprintf("ts-%04d", f.seq.Add(1))
}

func oneSlot() models.Slot {
	return models.Slot{ID: "sl-1", StationID: "st-1", Number: 1, ConnectorType: "CCS2", Status: models.SlotStatusAvailable}
}

// idsByDay groups stored time slot ids by local civil date.
func (f *fixture) idsByDay() map[string][]string {
	out := make(map[string][]string)
	for _, ts := range f.store.TimeSlots() {
		day := f.zone.FormatDate(f.zone.Today(ts.StartTime))
		out[day] = append(out[day], ts.ID)
	}
	return out
}

func (f *fixture) dayOffset(n int) string {
	return f.zone.FormatDate(f.zone.AddDays(f.zone.Today(start), n))
}

// failingTxRunner wraps a store and makes ReleaseTimeSlot fail for selected bookings'
// windows after the booking update already happened inside the transaction.
type failingTxRunner struct {
	inner   store.TxRunner
	failFor map[string]bool
}

var errInjected = errors.New("injected failure")

func (f *failingTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failFor: f.failFor})
	})
}

type failingTx struct {
	store.Tx
	failFor map[string]bool
}

func (t *failingTx) ReleaseTimeSlot(ctx context.Context, id string) (bool, error) {
	if t.failFor[id] {
		return false, errInjected
	}
	return t.Tx.ReleaseTimeSlot(ctx, id)
}

// staleBookings returns a fixed list regardless of the current state.
type staleBookings struct {
	list []models.Booking
}

func (s staleBookings) FindExpirable(context.Context, time.Time) ([]models.Booking, error) {
	return s.list, nil
}

type recordedEvents struct {
	mu       sync.Mutex
	bookings []models.Booking
}

func (r *recordedEvents) BookingExpired(_ context.Context, b models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings = append(r.bookings, b)
	return nil
}

// faultyTimeSlots fails the selected time slot operations and passes the rest through.
type faultyTimeSlots struct {
	store.TimeSlots
	failDelete     bool
	failDuplicates bool
	failInsert     bool
}

func (f *faultyTimeSlots) DeleteStartingBetween(ctx context.Context, from, to time.Time) (int64, error) {
	if f.failDelete {
		return 0, errInjected
	}
	return f.TimeSlots.DeleteStartingBetween(ctx, from, to)
}

func (f *faultyTimeSlots) FindDuplicates(ctx context.Context) ([]store.DuplicateGroup, error) {
	if f.failDuplicates {
		return nil, errInjected
	}
	return f.TimeSlots.FindDuplicates(ctx)
}

func (f *faultyTimeSlots) InsertMany(ctx context.Context, slots []models.TimeSlot) error {
	if f.failInsert {
		return errInjected
	}
	return f.TimeSlots.InsertMany(ctx, slots)
}

// faultySlots fails every AttachTimeSlots call.
type faultySlots struct {
	store.Slots
}

func (f faultySlots) AttachTimeSlots(context.Context, string, []string, time.Time) error {
	return errInjected
}
