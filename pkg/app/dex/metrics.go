package dex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	txs         *prometheus.CounterVec
	blockHeight prometheus.Gauge
	mempoolSize prometheus.Gauge
	rejected    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		txs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyperswap",
			Subsystem: "app",
			Name:      "txs_total",
			Help:      "Executed transactions by type and result code.",
		}, []string{"type", "code"}),
		blockHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hyperswap",
			Subsystem: "app",
			Name:      "block_height",
			Help:      "Height of the last finalized block.",
		}),
		mempoolSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hyperswap",
			Subsystem: "app",
			Name:      "mempool_size",
			Help:      "Pending transactions.",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyperswap",
			Subsystem: "app",
			Name:      "mempool_rejected_total",
			Help:      "Transactions refused at admission.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) tx(typ string, code uint32) {
	if m == nil {
		return
	}
	m.txs.WithLabelValues(typ, codeName(code)).Inc()
}

func (m *Metrics) block(height int64, pending int) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
	m.mempoolSize.Set(float64(pending))
}

func (m *Metrics) admitted(pending int) {
	if m == nil {
		return
	}
	m.mempoolSize.Set(float64(pending))
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
