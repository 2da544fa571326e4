package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentCreateTotal counts payment creation outcomes.
	PaymentCreateTotal *prometheus.CounterVec
	// PaymentCaptureTotal counts capture decisions and their outcomes per reconciliation path.
	PaymentCaptureTotal *prometheus.CounterVec
	// GatewayAttemptTotal counts individual gateway call attempts inside the retry executor.
	GatewayAttemptTotal *prometheus.CounterVec
	// PaymentNotificationTotal counts inbound notification verification outcomes.
	PaymentNotificationTotal *prometheus.CounterVec
	// PaymentReconcileTotal counts reconciliation outcomes.
	PaymentReconcileTotal *prometheus.CounterVec
	// GatewayCallLatency records gateway HTTP call latency in milliseconds.
	GatewayCallLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentCreateTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of payment creation outcomes.",
		}, []string{"method", "result"}))
		PaymentCaptureTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_capture_total",
			Help:      "Count of capture decisions by outcome.",
		}, []string{"result"}))
		GatewayAttemptTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_attempt_total",
			Help:      "Count of gateway call attempts by operation and result.",
		}, []string{"operation", "result"}))
		PaymentNotificationTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notification_total",
			Help:      "Count of inbound payment notifications by protocol and result.",
		}, []string{"protocol", "result"}))
		PaymentReconcileTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of reconciliation outcomes by path.",
		}, []string{"path", "outcome"}))
		GatewayCallLatency = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency of gateway HTTP calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "status"}))
	})
}

// Inc increments a labelled counter when metrics are registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
