package metrics

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics counts signature verification outcomes.
type GatewayMetrics struct {
	verifications *prometheus.CounterVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_gateway_verifications_total",
		Help: "Gateway signature verifications by outcome and reason.",
	}, []string{"outcome", "reason"})
	reg.MustRegister(verifications)
	return &GatewayMetrics{verifications: verifications}
}

// ObserveVerification records an accept (empty reason) or a rejection reason.
func (g *GatewayMetrics) ObserveVerification(reason string) {
	if g == nil || g.verifications == nil {
		return
	}
	outcome := "accepted"
	if reason != "" {
		outcome = "rejected"
	} else {
		reason = "none"
	}
	g.verifications.WithLabelValues(outcome, reason).Inc()
}

// AlertMetrics counts outbox activity.
type AlertMetrics struct {
	enqueued   *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	replays    prometheus.Counter
}

func NewAlertMetrics(reg prometheus.Registerer) *AlertMetrics {
	if reg == nil {
		return &AlertMetrics{}
	}
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_alert_enqueue_total",
		Help: "Alert enqueue calls split by whether a row was created or deduplicated.",
	}, []string{"result"})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_alert_dispatch_total",
		Help: "Alert dispatch attempts by outcome.",
	}, []string{"outcome"})
	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_alert_dlq_replay_total",
		Help: "Dead-lettered alerts put back into the outbox.",
	})
	reg.MustRegister(enqueued, dispatches, replays)
	return &AlertMetrics{enqueued: enqueued, dispatches: dispatches, replays: replays}
}

func (a *AlertMetrics) IncEnqueued(created bool) {
	if a == nil || a.enqueued == nil {
		return
	}
	result := "deduplicated"
	if created {
		result = "created"
	}
	a.enqueued.WithLabelValues(result).Inc()
}

func (a *AlertMetrics) IncDispatch(outcome string) {
	if a == nil || a.dispatches == nil {
		return
	}
	a.dispatches.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (a *AlertMetrics) IncReplay() {
	if a == nil || a.replays == nil {
		return
	}
	a.replays.Inc()
}

// CompensationMetrics counts payment transitions driven by compensation.
type CompensationMetrics struct {
	transitions *prometheus.CounterVec
}

func NewCompensationMetrics(reg prometheus.Registerer) *CompensationMetrics {
	if reg == nil {
		return &CompensationMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_compensation_transitions_total",
		Help: "Payment state transitions applied by the compensation engine.",
	}, []string{"to"})
	reg.MustRegister(transitions)
	return &CompensationMetrics{transitions: transitions}
}

func (c *CompensationMetrics) IncTransition(to string) {
	if c == nil || c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}
