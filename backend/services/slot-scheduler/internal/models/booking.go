package models

import "time"

// BookingStatus is the lifecycle state of a reservation.
type BookingStatus string

const (
	BookingPending   BookingStatus = "Pending"
	BookingApproved  BookingStatus = "Approved"
	BookingCharging  BookingStatus = "Charging"
	BookingCompleted BookingStatus = "Completed"
	BookingCancelled BookingStatus = "Cancelled"
	BookingExpired   BookingStatus = "Expired"
)

// ExpirableStatuses are the open statuses the expiration worker may close.
var ExpirableStatuses = []BookingStatus{BookingPending, BookingApproved}

// Expirable reports whether a booking in this status may be expired.
func (s BookingStatus) Expirable() bool {
	for _, st := range ExpirableStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Booking is a reservation of exactly one time slot.
type Booking struct {
	ID         string        `db:"id" json:"id"`
	OwnerID    string        `db:"owner_id" json:"owner_id"`
	StationID  string        `db:"station_id" json:"station_id"`
	SlotID     string        `db:"slot_id" json:"slot_id"`
	TimeSlotID string        `db:"time_slot_id" json:"time_slot_id"`
	StartTime  time.Time     `db:"start_time" json:"start_time"`
	EndTime    time.Time     `db:"end_time" json:"end_time"`
	Status     BookingStatus `db:"status" json:"status"`
	IsExpired  bool          `db:"is_expired" json:"is_expired"`
	ExpiredAt  *time.Time    `db:"expired_at" json:"expired_at,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}
