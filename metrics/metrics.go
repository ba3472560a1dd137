package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeliveriesTotal counts outbound delivery attempts by outcome
var DeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "loxodon_deliveries_total",
		Help: "Outbound activity deliveries by outcome.",
	},
	[]string{"outcome"},
)

// InboundActivitiesTotal counts accepted inbound activities by type
var InboundActivitiesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "loxodon_inbound_activities_total",
		Help: "Inbound activities accepted for processing, by type.",
	},
	[]string{"type"},
)

// RegisterInboxPendingGauge wires the inbox backlog into a gauge that is
// sampled on every scrape
func RegisterInboxPendingGauge(pendingCount func() int64) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "loxodon_inbox_pending",
			Help: "Queued plus in-flight inbound activities.",
		},
		func() float64 { return float64(pendingCount()) },
	)
}
