package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// ErrInvalidQuery is returned for malformed listing parameters.
var ErrInvalidQuery = errors.New("invalid time slot query")

// AvailabilityCache caches per-day listings.
type AvailabilityCache interface {
	Get(ctx context.Context, stationID, slotID, date string, onlyAvailable bool) ([]models.TimeSlot, bool, error)
	Set(ctx context.Context, stationID, slotID, date string, onlyAvailable bool, slots []models.TimeSlot) error
}

// TimeSlotService answers availability queries for one civil day.
type TimeSlotService struct {
	timeSlots store.TimeSlots
	zone      *clock.Zone
	cache     AvailabilityCache
	logger    *zap.Logger
}

// NewTimeSlotService builds service. cache may be nil.
func NewTimeSlotService(timeSlots store.TimeSlots, zone *clock.Zone, cache AvailabilityCache, logger *zap.Logger) *TimeSlotService {
	return &TimeSlotService{
		timeSlots: timeSlots,
		zone:      zone,
		cache:     cache,
		logger:    logger,
	}
}

// ListForDay returns the slot's windows of the civil date (YYYY-MM-DD) in the operating zone.
// Only full listings are cached: holds placed by the booking path do not invalidate the
// cache, so bookable-only queries always read the store.
func (s *TimeSlotService) ListForDay(ctx context.Context, stationID, slotID, date string, onlyAvailable bool) ([]models.TimeSlot, error) {
	stationID = strings.TrimSpace(stationID)
	slotID = strings.TrimSpace(slotID)
	if stationID == "" || slotID == "" {
		return nil, fmt.Errorf("%w: station_id and slot_id are required", ErrInvalidQuery)
	}
	day, err := s.zone.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidQuery)
	}
	date = s.zone.FormatDate(day)

	cacheable := s.cache != nil && !onlyAvailable
	if cacheable {
		cached, ok, err := s.cache.Get(ctx, stationID, slotID, date, onlyAvailable)
		if err != nil {
			s.logger.Warn("availability cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	from, to := s.zone.DayBounds(day)
	slots, err := s.timeSlots.ListStartingBetween(ctx, stationID, slotID, from, to, onlyAvailable)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []models.TimeSlot{}
	}

	if cacheable {
		if err := s.cache.Set(ctx, stationID, slotID, date, onlyAvailable, slots); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return slots, nil
}
