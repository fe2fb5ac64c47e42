package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chargeslots/backend/services/slot-scheduler/internal/models"
	"chargeslots/backend/services/slot-scheduler/internal/store"
)

// insertBatchSize keeps a multi-row insert well under the postgres parameter limit.
const insertBatchSize = 1000

// TimeSlotRepository persists bookable windows.
type TimeSlotRepository struct {
	db *sql.DB
}

var _ store.TimeSlots = (*TimeSlotRepository)(nil)

// NewTimeSlotRepository returns repository.
func NewTimeSlotRepository(db *sql.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

// DeleteStartingBetween removes windows with from <= start_time < to.
func (r *TimeSlotRepository) DeleteStartingBetween(ctx context.Context, from, to time.Time) (int64, error) {
	const query = `
		DELETE FROM time_slots
		WHERE start_time >= $1 AND start_time < $2
	`
	result, err := r.db.ExecContext(ctx, query, from, to)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FindDuplicates groups windows by (station_id, slot_id, start_time, end_time). Within a group
// held rows come first, then ids in ascending order.
func (r *TimeSlotRepository) FindDuplicates(ctx context.Context) ([]store.DuplicateGroup, error) {
	const query = `
		SELECT station_id, slot_id, start_time, end_time,
		       string_agg(id, ',' ORDER BY (status <> 'Available') DESC, id) AS ids
		FROM time_slots
		GROUP BY station_id, slot_id, start_time, end_time
		HAVING count(*) > 1
		ORDER BY start_time, station_id, slot_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []store.DuplicateGroup
	for rows.Next() {
		var (
			g   store.DuplicateGroup
			ids string
		)
		if err := rows.Scan(&g.StationID, &g.SlotID, &g.StartTime, &g.EndTime, &ids); err != nil {
			return nil, err
		}
		g.IDs = strings.Split(ids, ",")
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteByIDs removes the given windows. Slot links go with them through the cascade.
func (r *TimeSlotRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM time_slots WHERE id IN (%s)`, placeholders(1, len(ids)))
	result, err := r.db.ExecContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExistsStartingBetween reports whether any window starts in [from, to).
func (r *TimeSlotRepository) ExistsStartingBetween(ctx context.Context, from, to time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM time_slots
			WHERE start_time >= $1 AND start_time < $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, from, to).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// InsertMany writes all windows in one transaction.
func (r *TimeSlotRepository) InsertMany(ctx context.Context, slots []models.TimeSlot) (err error) {
	if len(slots) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(slots); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(slots) {
			end = len(slots)
		}
		batch := slots[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO time_slots (id, station_id, slot_id, start_time, end_time, status) VALUES `)
		args := make([]any, 0, len(batch)*6)
		for i, ts := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(" + placeholders(i*6+1, 6) + ")")
			args = append(args, ts.ID, ts.StationID, ts.SlotID, ts.StartTime, ts.EndTime, string(ts.Status))
		}
		if _, err = tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReleaseEnded frees every held window that ended before the instant.
func (r *TimeSlotRepository) ReleaseEnded(ctx context.Context, before time.Time) (int64, error) {
	const query = `
		UPDATE time_slots
		SET status = $1
		WHERE end_time < $2 AND status <> $1
	`
	result, err := r.db.ExecContext(ctx, query, string(models.TimeSlotAvailable), before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListStartingBetween returns the slot's windows starting in [from, to) ordered by start.
func (r *TimeSlotRepository) ListStartingBetween(ctx context.Context, stationID, slotID string, from, to time.Time, onlyAvailable bool) ([]models.TimeSlot, error) {
	query := `
		SELECT id, station_id, slot_id, start_time, end_time, status
		FROM time_slots
		WHERE station_id = $1 AND slot_id = $2 AND start_time >= $3 AND start_time < $4`
	args := []any{stationID, slotID, from, to}
	if onlyAvailable {
		query += ` AND status = $5`
		args = append(args, string(models.TimeSlotAvailable))
	}
	query += ` ORDER BY start_time, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TimeSlot
	for rows.Next() {
		var ts models.TimeSlot
		if err := rows.Scan(
			&ts.ID,
			&ts.StationID,
			&ts.SlotID,
			&ts.StartTime,
			&ts.EndTime,
			&ts.Status,
		); err != nil {
			return nil, err
		}
		ts.StartTime = ts.StartTime.UTC()
		ts.EndTime = ts.EndTime.UTC()
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
