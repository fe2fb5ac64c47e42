package models

import "time"

// TimeSlotStatus tells whether a bookable window is free.
type TimeSlotStatus string

const (
	TimeSlotAvailable TimeSlotStatus = "Available"
	TimeSlotBooked    TimeSlotStatus = "Booked"
)

// TimeSlot is a fixed-duration bookable window of one slot. Times are UTC.
type TimeSlot struct {
	ID        string         `db:"id" json:"id"`
	StationID string         `db:"station_id" json:"station_id"`
	SlotID    string         `db:"slot_id" json:"slot_id"`
	StartTime time.Time      `db:"start_time" json:"start_time"`
	EndTime   time.Time      `db:"end_time" json:"end_time"`
	Status    TimeSlotStatus `db:"status" json:"status"`
}

// Held reports whether the window is taken by a booking.
func (t TimeSlot) Held() bool {
	return t.Status != TimeSlotAvailable
}
