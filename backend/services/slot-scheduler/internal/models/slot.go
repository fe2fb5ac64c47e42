package models

import "time"

// SlotStatus is the operational state of a physical charging point.
type SlotStatus string

const (
	SlotStatusAvailable        SlotStatus = "Available"
	SlotStatusBooked           SlotStatus = "Booked"
	SlotStatusUnderMaintenance SlotStatus = "UnderMaintenance"
	SlotStatusOutOfOrder       SlotStatus = "OutOfOrder"
)

// Slot represents a physical charging point of a station.
type Slot struct {
	ID            string     `db:"id" json:"id"`
	StationID     string     `db:"station_id" json:"station_id"`
	Number        int        `db:"number" json:"number"`
	ConnectorType string     `db:"connector_type" json:"connector_type"`
	Status        SlotStatus `db:"status" json:"status"`
	TimeSlotIDs   []string   `db:"-" json:"time_slot_ids,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
