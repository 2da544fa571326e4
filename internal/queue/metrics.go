package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	QueueEnqueuedTotal  *prometheus.CounterVec
	QueueProcessedTotal *prometheus.CounterVec
)

// MustRegisterMetrics registers the queue collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Tasks enqueued grouped by type and result",
		}, []string{"type", "result"})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Tasks processed grouped by type and status",
		}, []string{"type", "status"})
		reg.MustRegister(QueueEnqueuedTotal, QueueProcessedTotal)
	})
}
