package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors for booking, conversation and messaging flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookingsTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	oracleRequests     *prometheus.CounterVec
	oracleLatency      prometheus.Histogram
	chatTurns          *prometheus.CounterVec
	webhookInbound     *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	remindersTotal     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Appointment creation attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action and outcome",
		}, []string{"action", "outcome"}),
		oracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Oracle generation calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Latency of oracle generation calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Handled chat messages by step and resolved action",
		}, []string{"step", "action"}),
		webhookInbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Inbound WhatsApp replies by intent and outcome",
		}, []string{"intent", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification dispatches by channel, template and status",
		}, []string{"channel", "template", "status"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "notify",
			Name:      "reminders_total",
			Help:      "Reminder sweep results by template and outcome",
		}, []string{"template", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.transitionsTotal,
		m.oracleRequests,
		m.oracleLatency,
		m.chatTurns,
		m.webhookInbound,
		m.notificationsTotal,
		m.remindersTotal,
	)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveOracle(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.oracleRequests.WithLabelValues(provider, outcome).Inc()
	m.oracleLatency.Observe(seconds)
}

func (m *Metrics) ObserveChatTurn(step, action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "none"
	}
	m.chatTurns.WithLabelValues(step, action).Inc()
}

func (m *Metrics) ObserveWebhook(intent, outcome string) {
	if m == nil {
		return
	}
	m.webhookInbound.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveNotification(channel, template, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, template, status).Inc()
}

func (m *Metrics) ObserveReminder(template, outcome string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(template, outcome).Inc()
}
