package escroworder

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "escrow",
		Name:      "orders_created_total",
		Help:      "Total escrow orders created by release type.",
	}, []string{"release_type"})

	releasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "escrow",
		Name:      "releases_total",
		Help:      "Total escrow releases by release type.",
	}, []string{"release_type"})

	disputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "escrow",
		Name:      "disputes_total",
		Help:      "Total disputes raised.",
	})
)

func init() {
	prometheus.MustRegister(ordersCreatedTotal, releasesTotal, disputesTotal)
}
