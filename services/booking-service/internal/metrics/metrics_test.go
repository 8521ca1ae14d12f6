package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func TestBookingCounters(t *testing.T) {
	m := NewBooking(prometheus.NewRegistry())
	m.ObserveOperation("book_slot", "ok", 0.01)
	m.ObserveOperation("book_slot", "ok", 0.02)
	m.ObserveOperation("book_slot", "slot_unavailable", 0.01)
	m.OutboxPublished("booking.appointment.booked.v1", 3)
	m.NotificationFailed("appointment_booked")

	assert.Equal(t, 2.0, counterValue(m.attempts.WithLabelValues("book_slot", "ok")))
	assert.Equal(t, 1.0, counterValue(m.attempts.WithLabelValues("book_slot", "slot_unavailable")))
	assert.Equal(t, 3.0, counterValue(m.outboxSent.WithLabelValues("booking.appointment.booked.v1")))
	assert.Equal(t, 1.0, counterValue(m.notifyFailed.WithLabelValues("appointment_booked")))
}

func TestNilReceiverIsNoop(t *testing.T) {
	var m *Booking
	assert.NotPanics(t, func() {
		m.ObserveOperation("x", "ok", 1)
		m.NotificationFailed("x")
		m.OutboxPublished("x", 1)
		m.ObserveConsumed("x", "ok")
		m.MissedMarked(1)
		m.SlotCache(true)
	})
}
