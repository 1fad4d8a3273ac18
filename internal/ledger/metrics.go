package ledger

import "github.com/prometheus/client_golang/prometheus"

var entriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Total ledger entries applied by entry type.",
}, []string{"type"})

func init() {
	prometheus.MustRegister(entriesTotal)
}
