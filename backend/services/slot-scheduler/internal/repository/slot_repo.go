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

// SlotRepository reads charging slots and maintains their window links.
type SlotRepository struct {
	db *sql.DB
}

var _ store.Slots = (*SlotRepository)(nil)

// NewSlotRepository returns repository.
func NewSlotRepository(db *sql.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// List returns every slot with its linked window ids.
func (r *SlotRepository) List(ctx context.Context) ([]models.Slot, error) {
	const query = `
		SELECT s.id, s.station_id, s.number, s.connector_type, s.status, s.created_at, s.updated_at,
		       COALESCE(string_agg(sts.time_slot_id, ',' ORDER BY sts.time_slot_id), '') AS time_slot_ids
		FROM slots s
		LEFT JOIN slot_time_slots sts ON sts.slot_id = s.id
		GROUP BY s.id
		ORDER BY s.station_id, s.number, s.id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		var (
			s   models.Slot
			ids string
		)
		if err := rows.Scan(
			&s.ID,
			&s.StationID,
			&s.Number,
			&s.ConnectorType,
			&s.Status,
			&s.CreatedAt,
			&s.UpdatedAt,
			&ids,
		); err != nil {
			return nil, err
		}
		if ids != "" {
			s.TimeSlotIDs = strings.Split(ids, ",")
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// AttachTimeSlots links windows to the slot, ignoring links that already exist, and bumps
// the slot's updated_at.
func (r *SlotRepository) AttachTimeSlots(ctx context.Context, slotID string, timeSlotIDs []string, at time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if len(timeSlotIDs) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO slot_time_slots (slot_id, time_slot_id) VALUES `)
		args := make([]any, 0, len(timeSlotIDs)+1)
		args = append(args, slotID)
		for i, id := range timeSlotIDs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($1, $%d)", i+2)
			args = append(args, id)
		}
		sb.WriteString(` ON CONFLICT DO NOTHING`)
		if _, err = tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}

	const touch = `UPDATE slots SET updated_at = $2 WHERE id = $1`
	result, err := tx.ExecContext(ctx, touch, slotID, at)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = fmt.Errorf("slot %s: %w", slotID, sql.ErrNoRows)
		return err
	}
	return tx.Commit()
}
