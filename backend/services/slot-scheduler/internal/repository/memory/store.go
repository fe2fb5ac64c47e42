// Package memory is an in-process implementation of the store contracts. Transactions work
// on a copy of the state and replace it on commit, so aborted work leaves nothing behind.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

type state struct {
	slots     map[string]models.Slot
	timeSlots map[string]models.TimeSlot
	bookings  map[string]models.Booking
}

func newState() *state {
	return &state{
		slots:     make(map[string]models.Slot),
		timeSlots: make(map[string]models.TimeSlot),
		bookings:  make(map[string]models.Booking),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, sl := range s.slots {
		sl.TimeSlotIDs = append([]string(nil), sl.TimeSlotIDs...)
		c.slots[id] = sl
	}
	for id, ts := range s.timeSlots {
		c.timeSlots[id] = ts
	}
	for id, b := range s.bookings {
		c.bookings[id] = b
	}
	return c
}

// Store keeps slots, time slots and bookings in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

var (
	_ store.TimeSlots = (*Store)(nil)
	_ store.Slots     = (*Store)(nil)
	_ store.Bookings  = (*Store)(nil)
	_ store.TxRunner  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// PutSlot inserts or replaces a slot.
func (s *Store) PutSlot(slot models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot.TimeSlotIDs = append([]string(nil), slot.TimeSlotIDs...)
	s.state.slots[slot.ID] = slot
}

// PutTimeSlot inserts or replaces a time slot without any uniqueness check.
func (s *Store) PutTimeSlot(ts models.TimeSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.timeSlots[ts.ID] = ts
}

// PutBooking inserts or replaces a booking.
func (s *Store) PutBooking(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bookings[b.ID] = b
}

// Slot returns a copy of the slot.
func (s *Store) Slot(id string) (models.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.state.slots[id]
	sl.TimeSlotIDs = append([]string(nil), sl.TimeSlotIDs...)
	return sl, ok
}

// TimeSlot returns the time slot.
func (s *Store) TimeSlot(id string) (models.TimeSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.state.timeSlots[id]
	return ts, ok
}

// Booking returns the booking.
func (s *Store) Booking(id string) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.bookings[id]
	return b, ok
}

// TimeSlots returns every time slot ordered by start time, then id.
func (s *Store) TimeSlots() []models.TimeSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TimeSlot, 0, len(s.state.timeSlots))
	for _, ts := range s.state.timeSlots {
		out = append(out, ts)
	}
	sortTimeSlots(out)
	return out
}

// DeleteStartingBetween removes time slots with from <= start < to.
func (s *Store) DeleteStartingBetween(ctx context.Context, from, to time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ts := range s.state.timeSlots {
		if inRange(ts.StartTime, from, to) {
			delete(s.state.timeSlots, id)
			s.state.detach(id)
			n++
		}
	}
	return n, nil
}

// FindDuplicates groups time slots by (station, slot, start, end) and returns groups with
// more than one member, held rows first, then by id.
func (s *Store) FindDuplicates(ctx context.Context) ([]store.DuplicateGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		station, slot string
		start, end    int64
	}
	buckets := make(map[key][]models.TimeSlot)
	for _, ts := range s.state.timeSlots {
		k := key{ts.StationID, ts.SlotID, ts.StartTime.UnixNano(), ts.EndTime.UnixNano()}
		buckets[k] = append(buckets[k], ts)
	}

	var groups []store.DuplicateGroup
	for _, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].Held() != members[j].Held() {
				return members[i].Held()
			}
			return members[i].ID < members[j].ID
		})
		g := store.DuplicateGroup{
			StationID: members[0].StationID,
			SlotID:    members[0].SlotID,
			StartTime: members[0].StartTime,
			EndTime:   members[0].EndTime,
		}
		for _, m := range members {
			g.IDs = append(g.IDs, m.ID)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].StartTime.Equal(groups[j].StartTime) {
			return groups[i].StartTime.Before(groups[j].StartTime)
		}
		return groups[i].IDs[0] < groups[j].IDs[0]
	})
	return groups, nil
}

// DeleteByIDs removes the given time slots and unlinks them from their slots.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.state.timeSlots[id]; ok {
			delete(s.state.timeSlots, id)
			s.state.detach(id)
			n++
		}
	}
	return n, nil
}

// ExistsStartingBetween reports whether any time slot starts in [from, to).
func (s *Store) ExistsStartingBetween(ctx context.Context, from, to time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range s.state.timeSlots {
		if inRange(ts.StartTime, from, to) {
			return true, nil
		}
	}
	return false, nil
}

// InsertMany adds all time slots or none of them.
func (s *Store) InsertMany(ctx context.Context, slots []models.TimeSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range slots {
		if _, ok := s.state.timeSlots[ts.ID]; ok {
			return errors.New("memory: duplicate time slot id " + ts.ID)
		}
	}
	for _, ts := range slots {
		s.state.timeSlots[ts.ID] = ts
	}
	return nil
}

// ReleaseEnded marks every held time slot that ended before the instant as available.
func (s *Store) ReleaseEnded(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ts := range s.state.timeSlots {
		if ts.EndTime.Before(before) && ts.Status != models.TimeSlotAvailable {
			ts.Status = models.TimeSlotAvailable
			s.state.timeSlots[id] = ts
			n++
		}
	}
	return n, nil
}

// ListStartingBetween returns the slot's time slots starting in [from, to), sorted by start.
func (s *Store) ListStartingBetween(ctx context.Context, stationID, slotID string, from, to time.Time, onlyAvailable bool) ([]models.TimeSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TimeSlot
	for _, ts := range s.state.timeSlots {
		if ts.StationID != stationID || ts.SlotID != slotID || !inRange(ts.StartTime, from, to) {
			continue
		}
		if onlyAvailable && ts.Held() {
			continue
		}
		out = append(out, ts)
	}
	sortTimeSlots(out)
	return out, nil
}

// List returns all slots ordered by station and number.
func (s *Store) List(ctx context.Context) ([]models.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Slot, 0, len(s.state.slots))
	for _, sl := range s.state.slots {
		sl.TimeSlotIDs = append([]string(nil), sl.TimeSlotIDs...)
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AttachTimeSlots adds ids to the slot's set and bumps its update time.
func (s *Store) AttachTimeSlots(ctx context.Context, slotID string, timeSlotIDs []string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.state.slots[slotID]
	if !ok {
		return errors.New("memory: slot " + slotID + " not found")
	}
	seen := make(map[string]struct{}, len(sl.TimeSlotIDs))
	for _, id := range sl.TimeSlotIDs {
		seen[id] = struct{}{}
	}
	for _, id := range timeSlotIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sl.TimeSlotIDs = append(sl.TimeSlotIDs, id)
	}
	sl.UpdatedAt = at
	s.state.slots[slotID] = sl
	return nil
}

// FindExpirable returns open, unexpired bookings whose end is before now.
func (s *Store) FindExpirable(ctx context.Context, now time.Time) ([]models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Booking
	for _, b := range s.state.bookings {
		if b.Status.Expirable() && !b.IsExpired && b.EndTime.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.Before(out[j].EndTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WithinTx runs fn against a private copy of the state and swaps it in when fn succeeds.
// Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memTx struct {
	state *state
}

func (t *memTx) ExpireBooking(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b, ok := t.state.bookings[bookingID]
	if !ok || b.IsExpired || !b.Status.Expirable() {
		return false, nil
	}
	expiredAt := at
	b.Status = models.BookingExpired
	b.IsExpired = true
	b.ExpiredAt = &expiredAt
	b.UpdatedAt = at
	t.state.bookings[bookingID] = b
	return true, nil
}

func (t *memTx) ReleaseTimeSlot(ctx context.Context, timeSlotID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ts, ok := t.state.timeSlots[timeSlotID]
	if !ok {
		return false, nil
	}
	ts.Status = models.TimeSlotAvailable
	t.state.timeSlots[timeSlotID] = ts
	return true, nil
}

func (s *state) detach(timeSlotID string) {
	for id, sl := range s.slots {
		for i, tsID := range sl.TimeSlotIDs {
			if tsID == timeSlotID {
				sl.TimeSlotIDs = append(sl.TimeSlotIDs[:i:i], sl.TimeSlotIDs[i+1:]...)
				s.slots[id] = sl
				break
			}
		}
	}
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func sortTimeSlots(out []models.TimeSlot) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
}
