package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/jobs"
	"chargeslots/backend/services/slot-scheduler/internal/models"
)

const versionKey = "slot-scheduler:timeslots:version"

// AvailabilityCache caches per-day window listings. Entries are keyed by a version counter;
// bumping the version orphans every older entry, which then ages out through the TTL.
// Only job runs bump the version, so a hold placed by the booking path shows up in a cached
// listing after at most the TTL.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewAvailabilityCache returns redis-backed cache.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl, logger: logger}
}

func (c *AvailabilityCache) version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *AvailabilityCache) key(version int64, stationID, slotID, date string, onlyAvailable bool) string {
	return fmt.Sprintf("slot-scheduler:timeslots:v%d:%s:%s:%s:%t", version, stationID, slotID, date, onlyAvailable)
}

// Get returns the cached listing. ok is false on a miss.
func (c *AvailabilityCache) Get(ctx context.Context, stationID, slotID, date string, onlyAvailable bool) ([]models.TimeSlot, bool, error) {
	v, err := c.version(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, c.key(v, stationID, slotID, date, onlyAvailable)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []models.TimeSlot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set stores a listing under the current version.
func (c *AvailabilityCache) Set(ctx context.Context, stationID, slotID, date string, onlyAvailable bool, slots []models.TimeSlot) error {
	v, err := c.version(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(v, stationID, slotID, date, onlyAvailable), data, c.ttl).Err()
}

// Invalidate drops every cached listing.
func (c *AvailabilityCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, versionKey).Err()
}

// ObserveRun implements jobs.Observer: runs that touched windows invalidate the cache.
func (c *AvailabilityCache) ObserveRun(ctx context.Context, report jobs.Report) {
	if !report.MutatedWindows() {
		return
	}
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Warn("invalidate availability cache", zap.String("job", report.Job), zap.Error(err))
	}
}
