package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
)

const namespace = "authguard"

// Metrics records authentication outcomes as Prometheus counters.
type Metrics struct {
	decisions        *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
}

// NewMetrics registers the decision collectors with reg, reusing collectors already registered there.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	decisions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Login decisions partitioned by outcome.",
	}, []string{"decision"}))
	if err != nil {
		return nil, fmt.Errorf("register decisions collector: %w", err)
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be handed to the delivery transport, by message kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, fmt.Errorf("register notification failures collector: %w", err)
	}

	return &Metrics{decisions: decisions, deliveryFailures: failures}, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return vec, nil
}

// RecordDecision implements port.DecisionRecorder.
func (m *Metrics) RecordDecision(kind domain.DecisionKind) {
	m.decisions.WithLabelValues(string(kind)).Inc()
}

// RecordDeliveryFailure implements port.DecisionRecorder.
func (m *Metrics) RecordDeliveryFailure(kind string) {
	m.deliveryFailures.WithLabelValues(kind).Inc()
}

var _ port.DecisionRecorder = (*Metrics)(nil)
