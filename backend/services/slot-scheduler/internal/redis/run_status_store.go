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
)

// RunStatusStore keeps the last report of every job so any instance can answer "when did
// the generator last run".
type RunStatusStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRunStatusStore returns redis-backed store.
func NewRunStatusStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStatusStore {
	return &RunStatusStore{client: client, ttl: ttl, logger: logger}
}

func (s *RunStatusStore) key(job string) string {
	return fmt.Sprintf("slot-scheduler:jobs:last:%s", job)
}

// Save stores report as the latest of its job.
func (s *RunStatusStore) Save(ctx context.Context, report jobs.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(report.Job), data, s.ttl).Err()
}

// Last returns the latest report of job, or nil when none is stored.
func (s *RunStatusStore) Last(ctx context.Context, job string) (*jobs.Report, error) {
	result, err := s.client.Get(ctx, s.key(job)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report jobs.Report
	if err := json.Unmarshal([]byte(result), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// List returns the stored reports of the given jobs, skipping jobs that never ran.
func (s *RunStatusStore) List(ctx context.Context, names []string) ([]jobs.Report, error) {
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.key(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	reports := make([]jobs.Report, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var report jobs.Report
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ObserveRun implements jobs.Observer.
func (s *RunStatusStore) ObserveRun(ctx context.Context, report jobs.Report) {
	if err := s.Save(ctx, report); err != nil {
		s.logger.Warn("save job report", zap.String("job", report.Job), zap.Error(err))
	}
}
