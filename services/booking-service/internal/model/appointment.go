package model

import "time"

type Appointment struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	ProviderID      string     `json:"providerId"`
	Date            string     `json:"date"`
	StartTime       time.Time  `json:"start"`
	EndTime         time.Time  `json:"end"`
	Status          Status     `json:"status"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	RescheduleCount int        `json:"rescheduleCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Overlaps uses half-open intervals: [s,e) and [a.Start,a.End) meet iff s < a.End && a.Start < e.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && a.StartTime.Before(end)
}

type HistoryEntry struct {
	AppointmentID string    `json:"appointmentId"`
	Action        Action    `json:"action"`
	FromStatus    Status    `json:"fromStatus,omitempty"`
	ToStatus      Status    `json:"toStatus"`
	OldStart      time.Time `json:"oldStart,omitzero"`
	OldEnd        time.Time `json:"oldEnd,omitzero"`
	NewStart      time.Time `json:"newStart"`
	NewEnd        time.Time `json:"newEnd"`
	Actor         string    `json:"actor"`
	At            time.Time `json:"at"`
}
