package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the exchange's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	orderCount prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyperswap",
			Subsystem: "exchange",
			Name:      "operations_total",
			Help:      "Exchange operations by name and result.",
		}, []string{"op", "result"}),
		orderCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hyperswap",
			Subsystem: "exchange",
			Name:      "order_count",
			Help:      "Number of orders ever created.",
		}),
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, reason(err)).Inc()
}

func (m *Metrics) setOrderCount(n uint64) {
	if m == nil {
		return
	}
	m.orderCount.Set(float64(n))
}
