package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// GeneratorConfig shapes the rolling horizon.
type GeneratorConfig struct {
	HorizonDays     int
	SessionStarts   []time.Duration
	SessionDuration time.Duration
}

func (c GeneratorConfig) validate() error {
	if c.HorizonDays < 1 {
		return errors.New("horizon must be at least one day")
	}
	if len(c.SessionStarts) == 0 {
		return errors.New("no session start offsets")
	}
	if c.SessionDuration <= 0 {
		return errors.New("session duration must be positive")
	}
	for _, s := range c.SessionStarts {
		if s < 0 || s >= 24*time.Hour {
			return fmt.Errorf("session start %s outside the day", s)
		}
	}
	return nil
}

// Generator keeps HorizonDays civil days of time slots per slot, starting today.
type Generator struct {
	timeSlots store.TimeSlots
	slots     store.Slots
	clock     clock.Clock
	zone      *clock.Zone
	cfg       GeneratorConfig
	logger    *zap.Logger
	newID     func() string
}

// NewGenerator validates cfg and returns the job.
func NewGenerator(timeSlots store.TimeSlots, slots store.Slots, clk clock.Clock, zone *clock.Zone, cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return &Generator{
		timeSlots: timeSlots,
		slots:     slots,
		clock:     clk,
		zone:      zone,
		cfg:       cfg,
		logger:    logger.Named(NameGenerator),
		newID:     uuid.NewString,
	}, nil
}

// Name implements Job.
func (g *Generator) Name() string { return NameGenerator }

// Run is the daily pass: prune yesterday, drop duplicates, then add the last horizon day
// unless it already has windows.
func (g *Generator) Run(ctx context.Context) (Report, error) {
	var report Report
	now := g.clock.Now()
	today := g.zone.Today(now)

	from, to := g.zone.DayBounds(g.zone.AddDays(today, -1))
	deleted, err := g.timeSlots.DeleteStartingBetween(ctx, from, to)
	if err != nil {
		return report, fmt.Errorf("delete expired day: %w", err)
	}
	report.Add(CountDeleted, deleted)

	removed, err := g.RemoveDuplicates(ctx)
	if err != nil {
		return report, err
	}
	report.Add(CountDuplicates, removed)

	target := g.zone.AddDays(today, g.cfg.HorizonDays-1)
	err = g.generateDay(ctx, target, now, &report)
	switch {
	case errors.Is(err, errDayPresent):
		report.Skipped = true
		g.logger.Info("target day already generated", zap.String("day", g.zone.FormatDate(target)))
	case err != nil:
		return report, err
	}
	return report, nil
}

// RemoveDuplicates keeps the first row of every duplicate group and deletes the rest.
func (g *Generator) RemoveDuplicates(ctx context.Context) (int64, error) {
	groups, err := g.timeSlots.FindDuplicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("find duplicates: %w", err)
	}
	var surplus []string
	for _, grp := range groups {
		surplus = append(surplus, grp.Surplus()...)
	}
	if len(surplus) == 0 {
		return 0, nil
	}
	removed, err := g.timeSlots.DeleteByIDs(ctx, surplus)
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w", err)
	}
	g.logger.Warn("removed duplicate time slots",
		zap.Int("groups", len(groups)),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// Backfill removes every day before yesterday, left behind by missed daily runs, and
// generates every day of the horizon that has no windows yet.
func (g *Generator) Backfill(ctx context.Context) (Report, error) {
	var report Report
	now := g.clock.Now()
	today := g.zone.Today(now)

	before, _ := g.zone.DayBounds(g.zone.AddDays(today, -1))
	deleted, err := g.timeSlots.DeleteStartingBetween(ctx, time.Time{}, before)
	if err != nil {
		return report, fmt.Errorf("delete stale days: %w", err)
	}
	report.Add(CountDeleted, deleted)

	for i := 0; i < g.cfg.HorizonDays; i++ {
		day := g.zone.AddDays(today, i)
		generated := report.Count(CountGenerated)
		err := g.generateDay(ctx, day, now, &report)
		if errors.Is(err, errDayPresent) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("backfill %s: %w", g.zone.FormatDate(day), err)
		}
		if report.Count(CountGenerated) > generated {
			report.Add(CountDays, 1)
		}
	}
	return report, nil
}

// BackfillJob exposes Backfill as a Job.
func (g *Generator) BackfillJob() Job {
	return jobFunc{name: NameBackfill, run: g.Backfill}
}

var errDayPresent = errors.New("day already has time slots")

// generateDay stages one window per slot and session start and links them to their slots.
// A day that already has windows is not generated again; its windows missing from their
// slot's set are linked instead and errDayPresent is returned.
func (g *Generator) generateDay(ctx context.Context, day, now time.Time, report *Report) error {
	from, to := g.zone.DayBounds(day)
	exists, err := g.timeSlots.ExistsStartingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("check target day: %w", err)
	}

	slots, err := g.slots.List(ctx)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	if exists {
		if err := g.relinkDay(ctx, slots, from, to, now, report); err != nil {
			return err
		}
		return errDayPresent
	}
	if len(slots) == 0 {
		g.logger.Info("no slots on record", zap.String("day", g.zone.FormatDate(day)))
		return nil
	}

	staged := make([]models.TimeSlot, 0, len(slots)*len(g.cfg.SessionStarts))
	bySlot := make(map[string][]string, len(slots))
	for _, slot := range slots {
		for _, offset := range g.cfg.SessionStarts {
			ts := models.TimeSlot{
				ID:        g.newID(),
				StationID: slot.StationID,
				SlotID:    slot.ID,
				StartTime: g.zone.At(day, offset),
				EndTime:   g.zone.At(day, offset+g.cfg.SessionDuration),
				Status:    models.TimeSlotAvailable,
			}
			staged = append(staged, ts)
			bySlot[slot.ID] = append(bySlot[slot.ID], ts.ID)
		}
	}

	if err := g.timeSlots.InsertMany(ctx, staged); err != nil {
		return fmt.Errorf("insert time slots: %w", err)
	}
	report.Add(CountGenerated, int64(len(staged)))
	for _, slot := range slots {
		if err := g.slots.AttachTimeSlots(ctx, slot.ID, bySlot[slot.ID], now); err != nil {
			return fmt.Errorf("attach time slots to %s: %w", slot.ID, err)
		}
		report.Add(CountSlots, 1)
	}

	g.logger.Info("generated time slots",
		zap.String("day", g.zone.FormatDate(day)),
		zap.Int("slots", len(slots)),
		zap.Int("time_slots", len(staged)),
	)
	return nil
}

// relinkDay attaches windows of [from, to) that their slot does not list yet, which happens
// when a run stopped between inserting windows and linking them.
func (g *Generator) relinkDay(ctx context.Context, slots []models.Slot, from, to, now time.Time, report *Report) error {
	for _, slot := range slots {
		windows, err := g.timeSlots.ListStartingBetween(ctx, slot.StationID, slot.ID, from, to, false)
		if err != nil {
			return fmt.Errorf("list windows of %s: %w", slot.ID, err)
		}
		linked := make(map[string]struct{}, len(slot.TimeSlotIDs))
		for _, id := range slot.TimeSlotIDs {
			linked[id] = struct{}{}
		}
		var missing []string
		for _, ts := range windows {
			if _, ok := linked[ts.ID]; !ok {
				missing = append(missing, ts.ID)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if err := g.slots.AttachTimeSlots(ctx, slot.ID, missing, now); err != nil {
			return fmt.Errorf("relink time slots to %s: %w", slot.ID, err)
		}
		report.Add(CountRelinked, int64(len(missing)))
		g.logger.Warn("linked orphaned time slots",
			zap.String("slot_id", slot.ID),
			zap.Int("time_slots", len(missing)),
		)
	}
	return nil
}
