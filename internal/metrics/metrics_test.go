package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("created")
		m.ObserveTransition("confirm", "ok")
		m.ObserveOracle("ollama", "ok", 0.2)
		m.ObserveChatTurn("initial", "")
		m.ObserveWebhook("confirm", "applied")
		m.ObserveNotification("whatsapp", "appointment_created", "sent")
		m.ObserveReminder("appointment_reminder_24h", "sent")
	})
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("created")
	m.ObserveBooking("slot_unavailable")
	m.ObserveTransition("cancel", "ok")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.bookingsTotal.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_unavailable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("cancel", "ok")))
}
