package jobs

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"chargeslots/backend/services/slot-scheduler/internal/models"
)

func TestBackfillSeedsFullHorizon(t *testing.T) {
	f := newFixture(t, oneSlot())

	report, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, report.Count(CountDays))
	assert.EqualValues(t, 70, report.Count(CountGenerated))

	days := f.idsByDay()
	require.Len(t, days, 7)
	for i := 0; i < 7; i++ {
		assert.Len(t, days[f.dayOffset(i)], 10, "day %d", i)
	}

	slot, _ := f.store.Slot("sl-1")
	assert.Len(t, slot.TimeSlotIDs, 70)
	assert.Equal(t, start, slot.UpdatedAt)

	again, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Count(CountGenerated))
	assert.Len(t, f.store.TimeSlots(), 70)
}

func TestGeneratedWindowsFollowSessionTable(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)

	var first []models.TimeSlot
	for _, ts := range f.store.TimeSlots() {
		if f.zone.FormatDate(f.zone.Today(ts.StartTime)) == f.dayOffset(0) {
			first = append(first, ts)
		}
	}
	require.Len(t, first, 10)
	// 01:15 local is 19:45 UTC of the previous day.
	assert.Equal(t, time.Date(2025, 10, 9, 19, 45, 0, 0, time.UTC), first[0].StartTime)
	assert.Equal(t, time.Date(2025, 10, 9, 21, 45, 0, 0, time.UTC), first[0].EndTime)
	// 21:30 local.
	assert.Equal(t, time.Date(2025, 10, 10, 16, 0, 0, 0, time.UTC), first[9].StartTime)
	for _, ts := range first {
		assert.Equal(t, models.TimeSlotAvailable, ts.Status)
		assert.Equal(t, "st-1", ts.StationID)
		assert.Equal(t, 2*time.Hour, ts.EndTime.Sub(ts.StartTime))
	}
}

func TestGeneratorShiftsHorizonByOneDay(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	before := f.idsByDay()
	require.Len(t, f.store.TimeSlots(), 70)

	f.clock.Advance(24 * time.Hour)
	report, err := f.gen.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 10, report.Count(CountDeleted))
	assert.EqualValues(t, 10, report.Count(CountGenerated))
	assert.False(t, report.Skipped)

	after := f.idsByDay()
	assert.Len(t, f.store.TimeSlots(), 70)
	assert.NotContains(t, after, f.dayOffset(0))
	assert.Len(t, after[f.dayOffset(7)], 10)
	for i := 1; i <= 6; i++ {
		assert.Equal(t, before[f.dayOffset(i)], after[f.dayOffset(i)], "day %d changed", i)
	}

	slot, _ := f.store.Slot("sl-1")
	assert.Len(t, slot.TimeSlotIDs, 70)
}

func TestGeneratorRunIsIdempotent(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	_, err = f.gen.Run(context.Background())
	require.NoError(t, err)
	target := f.dayOffset(7)
	count := len(f.idsByDay()[target])

	second, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Count(CountGenerated))
	assert.Len(t, f.idsByDay()[target], count)
	assert.Len(t, f.store.TimeSlots(), 70)
}

func TestRollingHorizonStaysContiguous(t *testing.T) {
	f := newFixture(t, oneSlot(), models.Slot{ID: "sl-2", StationID: "st-1", Number: 2})
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)

	for n := 1; n <= 10; n++ {
		f.clock.Advance(24 * time.Hour)
		_, err := f.gen.Run(context.Background())
		require.NoError(t, err)

		days := f.idsByDay()
		var keys []string
		for d := range days {
			keys = append(keys, d)
		}
		sort.Strings(keys)

		var want []string
		for i := 0; i < 7; i++ {
			want = append(want, f.dayOffset(n+i))
		}
		assert.Equal(t, want, keys, "after run %d", n)
		for _, d := range keys {
			assert.Len(t, days[d], 20, "day %s after run %d", d, n)
		}
	}
}

func TestGeneratorRemovesDuplicatesKeepingHeldRow(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)

	original := f.store.TimeSlots()[20]
	held := original
	held.ID = "aaa-held"
	held.Status = models.TimeSlotBooked
	f.store.PutTimeSlot(held)
	for _, id := range []string{"zz-1", "zz-2", "zz-3"} {
		dup := original
		dup.ID = id
		f.store.PutTimeSlot(dup)
	}

	report, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, report.Count(CountDuplicates))
	assert.True(t, report.Skipped)

	var matches []models.TimeSlot
	for _, ts := range f.store.TimeSlots() {
		if ts.StartTime.Equal(original.StartTime) && ts.SlotID == original.SlotID {
			matches = append(matches, ts)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, "aaa-held", matches[0].ID)
}

func TestGeneratorWithoutSlotsGeneratesNothing(t *testing.T) {
	f := newFixture(t)
	report, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Zero(t, report.Count(CountGenerated))
	assert.Empty(t, f.store.TimeSlots())
}

func TestGeneratorConfigValidation(t *testing.T) {
	f := newFixture(t)
	cases := []GeneratorConfig{
		{HorizonDays: 0, SessionStarts: defaultSessions(), SessionDuration: time.Hour},
		{HorizonDays: 7, SessionDuration: time.Hour},
		{HorizonDays: 7, SessionStarts: defaultSessions()},
		{HorizonDays: 7, SessionStarts: []time.Duration{25 * time.Hour}, SessionDuration: time.Hour},
	}
	for _, cfg := range cases {
		_, err := NewGenerator(f.store, f.store, f.clock, f.zone, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
	}
}

// sortedDays returns the local dates that currently have windows.
func (f *fixture) sortedDays() []string {
	var days []string
	for d := range f.idsByDay() {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

func (f *fixture) dayRange(from, n int) []string {
	var out []string
	for i := from; i < from+n; i++ {
		out = append(out, f.dayOffset(i))
	}
	return out
}

func TestBackfillPrunesDaysMissedWhileStopped(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	report, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 20, report.Count(CountDeleted))
	assert.EqualValues(t, 3, report.Count(CountDays))
	assert.EqualValues(t, 30, report.Count(CountGenerated))

	_, err = f.gen.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, f.dayRange(3, 7), f.sortedDays())
	assert.Len(t, f.store.TimeSlots(), 70)
	slot, _ := f.store.Slot("sl-1")
	assert.Len(t, slot.TimeSlotIDs, 70)
}

func TestGeneratorStopsWhenPruneFails(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	gen := f.generator(t, &faultyTimeSlots{TimeSlots: f.store, failDelete: true}, f.store)
	report, err := gen.Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	assert.Zero(t, report.Count(CountGenerated))
	assert.Equal(t, f.dayRange(0, 7), f.sortedDays())
}

func TestGeneratorStopsWhenDuplicateScanFails(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	gen := f.generator(t, &faultyTimeSlots{TimeSlots: f.store, failDuplicates: true}, f.store)
	report, err := gen.Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	assert.EqualValues(t, 10, report.Count(CountDeleted))
	assert.Zero(t, report.Count(CountGenerated))
	// The pruned day stays pruned, nothing new was added.
	assert.Equal(t, f.dayRange(1, 6), f.sortedDays())

	_, err = f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.dayRange(1, 7), f.sortedDays())
}

func TestGeneratorInsertFailureKeepsCompletedSteps(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	gen := f.generator(t, &faultyTimeSlots{TimeSlots: f.store, failInsert: true}, f.store)
	report, err := gen.Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	assert.Zero(t, report.Count(CountGenerated))
	assert.Len(t, f.store.TimeSlots(), 60)
	slot, _ := f.store.Slot("sl-1")
	assert.Len(t, slot.TimeSlotIDs, 60)

	retry, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 10, retry.Count(CountGenerated))
	assert.Equal(t, f.dayRange(1, 7), f.sortedDays())
}

func TestGeneratorRelinksWindowsAfterAttachFailure(t *testing.T) {
	f := newFixture(t, oneSlot())
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	gen := f.generator(t, f.store, faultySlots{Slots: f.store})
	report, err := gen.Run(context.Background())
	require.ErrorIs(t, err, errInjected)
	assert.EqualValues(t, 10, report.Count(CountGenerated))
	assert.Len(t, f.store.TimeSlots(), 70)
	slot, _ := f.store.Slot("sl-1")
	assert.Len(t, slot.TimeSlotIDs, 60)

	retry, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, retry.Skipped)
	assert.EqualValues(t, 10, retry.Count(CountRelinked))
	slot, _ = f.store.Slot("sl-1")
	assert.ElementsMatch(t, slot.TimeSlotIDs, ids(f.store.TimeSlots()))

	again, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Count(CountRelinked))
}

func TestConcurrentGeneratorRunsConverge(t *testing.T) {
	f := newFixture(t, oneSlot(), models.Slot{ID: "sl-2", StationID: "st-1", Number: 2})
	_, err := f.gen.Backfill(context.Background())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := f.gen.Run(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())

	_, err = f.gen.Run(context.Background())
	require.NoError(t, err)

	type key struct {
		slot       string
		start, end time.Time
	}
	seen := make(map[key]int)
	for _, ts := range f.store.TimeSlots() {
		seen[key{ts.SlotID, ts.StartTime, ts.EndTime}]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "%+v", k)
	}
	assert.Len(t, f.store.TimeSlots(), 140)
	assert.Equal(t, f.dayRange(1, 7), f.sortedDays())
	for _, id := range []string{"sl-1", "sl-2"} {
		slot, _ := f.store.Slot(id)
		assert.Len(t, slot.TimeSlotIDs, 70, id)
	}
}

func ids(slots []models.TimeSlot) []string {
	out := make([]string, 0, len(slots))
	for _, ts := range slots {
		out = append(out, ts.ID)
	}
	return out
}
