package model

import "time"

type NotificationKind string

const (
	KindBooked      NotificationKind = "appointment_booked"
	KindCancelled   NotificationKind = "appointment_cancelled"
	KindRescheduled NotificationKind = "appointment_rescheduled"
	KindApproved    NotificationKind = "appointment_approved"
	KindRejected    NotificationKind = "appointment_rejected"
	KindCompleted   NotificationKind = "appointment_completed"
	KindMissed      NotificationKind = "appointment_missed"
)

type Notification struct {
	ID            string           `json:"_id"`
	UserID        string           `json:"userId"`
	AppointmentID string           `json:"appointmentId,omitempty"`
	Kind          NotificationKind `json:"type"`
	Message       string           `json:"message"`
	Read          bool             `json:"read"`
	CreatedAt     time.Time        `json:"createdAt"`
}
