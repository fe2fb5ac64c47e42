package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chargeslots/backend/services/slot-scheduler/internal/jobs"
	"chargeslots/backend/services/slot-scheduler/internal/models"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRunStatusStoreKeepsLatestReport(t *testing.T) {
	client, mr := newClient(t)
	s := NewRunStatusStore(client, time.Hour, zaptest.NewLogger(t))
	ctx := context.Background()

	at := time.Date(2025, 10, 10, 0, 5, 0, 0, time.UTC)
	first := jobs.Report{Job: jobs.NameGenerator, StartedAt: at, FinishedAt: at.Add(time.Second)}
	first.Add(jobs.CountGenerated, 10)
	s.ObserveRun(ctx, first)

	second := jobs.Report{Job: jobs.NameGenerator, StartedAt: at.Add(time.Hour), FinishedAt: at.Add(time.Hour), Skipped: true}
	s.ObserveRun(ctx, second)

	got, err := s.Last(ctx, jobs.NameGenerator)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Skipped)
	assert.True(t, got.StartedAt.Equal(second.StartedAt))

	ttl := mr.TTL("slot-scheduler:jobs:last:generator")
	assert.Equal(t, time.Hour, ttl)

	missing, err := s.Last(ctx, jobs.NameReconciler)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunStatusStoreListSkipsJobsThatNeverRan(t *testing.T) {
	client, _ := newClient(t)
	s := NewRunStatusStore(client, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, jobs.Report{Job: jobs.NameExpiration, Error: "down"}))

	reports, err := s.List(ctx, []string{jobs.NameGenerator, jobs.NameExpiration, jobs.NameReconciler})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, jobs.NameExpiration, reports[0].Job)
	assert.Equal(t, "down", reports[0].Error)
}

func TestAvailabilityCacheInvalidatesOnMutatingRun(t *testing.T) {
	client, _ := newClient(t)
	c := NewAvailabilityCache(client, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	start := time.Date(2025, 10, 9, 19, 45, 0, 0, time.UTC)
	listing := []models.TimeSlot{{
		ID: "ts-1", StationID: "st-1", SlotID: "sl-1",
		StartTime: start, EndTime: start.Add(2 * time.Hour), Status: models.TimeSlotAvailable,
	}}
	require.NoError(t, c.Set(ctx, "st-1", "sl-1", "2025-10-10", true, listing))

	got, ok, err := c.Get(ctx, "st-1", "sl-1", "2025-10-10", true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "ts-1", got[0].ID)

	// A run that touched nothing keeps the entry.
	c.ObserveRun(ctx, jobs.Report{Job: jobs.NameReconciler})
	_, ok, err = c.Get(ctx, "st-1", "sl-1", "2025-10-10", true)
	require.NoError(t, err)
	assert.True(t, ok)

	released := jobs.Report{Job: jobs.NameReconciler}
	released.Add(jobs.CountReleased, 1)
	c.ObserveRun(ctx, released)
	_, ok, err = c.Get(ctx, "st-1", "sl-1", "2025-10-10", true)
	require.NoError(t, err)
	assert.False(t, ok)
}
