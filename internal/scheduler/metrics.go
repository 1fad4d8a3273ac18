package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "scheduler",
		Name:      "jobs_enqueued_total",
		Help:      "Total jobs enqueued by type.",
	}, []string{"type"})

	processedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "scheduler",
		Name:      "jobs_processed_total",
		Help:      "Total jobs completed successfully by type.",
	}, []string{"type"})

	retriedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "scheduler",
		Name:      "jobs_retried_total",
		Help:      "Total job retries by type.",
	}, []string{"type"})

	failedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "scheduler",
		Name:      "jobs_failed_total",
		Help:      "Total terminally failed jobs by type and reason.",
	}, []string{"type", "reason"})
)

func init() {
	prometheus.MustRegister(enqueuedTotal, processedTotal, retriedTotal, failedTotal)
}
