// Package observability holds the process-wide Prometheus metrics registry,
// following the teacher's lazy-singleton-behind-sync.Once pattern but with a
// hive_ namespace and the pipeline/subsystem counters SPEC_FULL.md's ambient
// stack section names.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	submitTotal         prometheus.Counter
	submitRejectedTotal *prometheus.CounterVec
	submitDuration      prometheus.Histogram

	escrowActive   prometheus.Gauge
	escrowRedeemed prometheus.Counter
	escrowRefunded prometheus.Counter

	nettingWindowsClosed  prometheus.Counter
	nettingDisagreements  prometheus.Counter
	disputesOpen          prometheus.Gauge
	disputesResolvedTotal *prometheus.CounterVec
	bondTierGauge         *prometheus.GaugeVec
}

var (
	pipelineOnce sync.Once
	pipelineReg  *pipelineMetrics
)

// Pipeline returns the lazily-initialised, process-wide metrics registry.
func Pipeline() *pipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineReg = &pipelineMetrics{
			submitTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "submit", Name: "total",
				Help: "Count of operation envelopes submitted to the command pipeline.",
			}),
			submitRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "submit", Name: "rejected_total",
				Help: "Count of rejected submissions by stable failure code.",
			}, []string{"reason"}),
			submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "hive", Subsystem: "submit", Name: "duration_seconds",
				Help:    "Latency of the full credential-gated command pipeline.",
				Buckets: prometheus.DefBuckets,
			}),
			escrowActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hive", Subsystem: "escrow", Name: "active_tickets",
				Help: "Count of escrow tickets currently Active.",
			}),
			escrowRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "escrow", Name: "redeemed_total",
				Help: "Count of escrow tickets transitioned to Redeemed.",
			}),
			escrowRefunded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "escrow", Name: "refunded_total",
				Help: "Count of escrow tickets transitioned to Refunded.",
			}),
			nettingWindowsClosed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "netting", Name: "windows_closed_total",
				Help: "Count of settlement windows closed and committed.",
			}),
			nettingDisagreements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "netting", Name: "disagreements_total",
				Help: "Count of netting proposals that ended in counterparty disagreement.",
			}),
			disputesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hive", Subsystem: "dispute", Name: "open",
				Help: "Count of disputes currently awaiting resolution.",
			}),
			disputesResolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hive", Subsystem: "dispute", Name: "resolved_total",
				Help: "Count of resolved disputes by slash-recommendation outcome.",
			}, []string{"slash_recommended"}),
			bondTierGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hive", Subsystem: "bond", Name: "tier",
				Help: "Count of hive members currently at each trust tier.",
			}, []string{"tier"}),
		}
		prometheus.MustRegister(
			pipelineReg.submitTotal,
			pipelineReg.submitRejectedTotal,
			pipelineReg.submitDuration,
			pipelineReg.escrowActive,
			pipelineReg.escrowRedeemed,
			pipelineReg.escrowRefunded,
			pipelineReg.nettingWindowsClosed,
			pipelineReg.nettingDisagreements,
			pipelineReg.disputesOpen,
			pipelineReg.disputesResolvedTotal,
			pipelineReg.bondTierGauge,
		)
	})
	return pipelineReg
}

// ObserveSubmit records one completed Submit call.
func (m *pipelineMetrics) ObserveSubmit(started time.Time, rejectReason string) {
	if m == nil {
		return
	}
	m.submitTotal.Inc()
	m.submitDuration.Observe(time.Since(started).Seconds())
	if rejectReason != "" {
		m.submitRejectedTotal.WithLabelValues(rejectReason).Inc()
	}
}

// SetEscrowActive sets the current Active-ticket gauge.
func (m *pipelineMetrics) SetEscrowActive(n int) {
	if m == nil {
		return
	}
	m.escrowActive.Set(float64(n))
}

// RecordEscrowTerminal increments the redeemed/refunded counters.
func (m *pipelineMetrics) RecordEscrowTerminal(redeemed bool) {
	if m == nil {
		return
	}
	if redeemed {
		m.escrowRedeemed.Inc()
	} else {
		m.escrowRefunded.Inc()
	}
}

// RecordNettingWindow records one closed settlement window, optionally a
// counterparty disagreement.
func (m *pipelineMetrics) RecordNettingWindow(disagreement bool) {
	if m == nil {
		return
	}
	m.nettingWindowsClosed.Inc()
	if disagreement {
		m.nettingDisagreements.Inc()
	}
}

// SetDisputesOpen sets the open-dispute gauge.
func (m *pipelineMetrics) SetDisputesOpen(n int) {
	if m == nil {
		return
	}
	m.disputesOpen.Set(float64(n))
}

// RecordDisputeResolved records a dispute resolution outcome.
func (m *pipelineMetrics) RecordDisputeResolved(slashRecommended bool) {
	if m == nil {
		return
	}
	label := "false"
	if slashRecommended {
		label = "true"
	}
	m.disputesResolvedTotal.WithLabelValues(label).Inc()
}

// SetBondTierCount sets the gauge for the number of members at tier.
func (m *pipelineMetrics) SetBondTierCount(tier string, n int) {
	if m == nil {
		return
	}
	m.bondTierGauge.WithLabelValues(tier).Set(float64(n))
}
