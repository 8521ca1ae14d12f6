package outbox

import (
	"encoding/json"
	"time"
)

const (
	AggregateAppointment = "appointment"

	TypeBooked      = "booking.appointment.booked.v1"
	TypeCancelled   = "booking.appointment.cancelled.v1"
	TypeRescheduled = "booking.appointment.rescheduled.v1"
)

// TypeForStatus names the event emitted when an appointment enters status.
func TypeForStatus(status string) string {
	return "booking.appointment." + status + ".v1"
}

// Event is the envelope written to outbox_events inside the business transaction.
// The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentPayload is the body of every booking.appointment.* event.
type AppointmentPayload struct {
	AppointmentID   string    `json:"appointment_id"`
	UserID          string    `json:"user_id"`
	ProviderID      string    `json:"provider_id"`
	Date            string    `json:"date"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	PreviousStart   time.Time `json:"previous_start,omitzero"`
	PreviousEnd     time.Time `json:"previous_end,omitzero"`
	Reason          string    `json:"reason,omitempty"`
	Actor           string    `json:"actor"`
	RescheduleCount int       `json:"reschedule_count"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewAppointmentEvent(eventType string, p AppointmentPayload) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   p.AppointmentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
