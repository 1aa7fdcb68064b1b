// Package metrics holds the Prometheus collectors of the core.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics dependency without branching at every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medkeeper"

type Metrics struct {
	// RecordsWritten counts successful Put calls.
	RecordsWritten prometheus.Counter

	// RecordReads counts Get calls by result (hit, miss, expired, corrupt).
	RecordReads *prometheus.CounterVec

	// RecordsPurged counts records removed by reason (expired, corrupt, sweep).
	RecordsPurged *prometheus.CounterVec

	// SweepRuns counts sweeps by outcome (ok, skipped, error).
	SweepRuns *prometheus.CounterVec

	// SweepRemoved counts items removed by sweeps by kind (records, sync_items).
	SweepRemoved *prometheus.CounterVec

	// AutoSaves counts coordinator saves by criticality and outcome.
	AutoSaves *prometheus.CounterVec

	// SignatureTransitions counts request transitions by target status.
	SignatureTransitions *prometheus.CounterVec

	// ShareRedemptions counts redeem calls by outcome (ok, unavailable, error).
	ShareRedemptions *prometheus.CounterVec

	// SyncUploads counts sync attempts by outcome (done, retry, failed, skipped).
	SyncUploads *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "records", Name: "written_total",
			Help: "Records sealed and written to the store",
		}),
		RecordReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "records", Name: "reads_total",
			Help: "Record reads by result",
		}, []string{"result"}),
		RecordsPurged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "records", Name: "purged_total",
			Help: "Records removed outside an explicit delete, by reason",
		}, []string{"reason"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "runs_total",
			Help: "Expiration sweeps by outcome",
		}, []string{"outcome"}),
		SweepRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "removed_total",
			Help: "Items removed by the sweeper, by kind",
		}, []string{"kind"}),
		AutoSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "autosave", Name: "saves_total",
			Help: "Auto-save attempts by criticality and outcome",
		}, []string{"criticality", "outcome"}),
		SignatureTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signatures", Name: "transitions_total",
			Help: "Signature request transitions by target status",
		}, []string{"status"}),
		ShareRedemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shares", Name: "redemptions_total",
			Help: "Share token redemptions by outcome",
		}, []string{"outcome"}),
		SyncUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "uploads_total",
			Help: "Sync queue processing by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the collectors registered on gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.RecordsWritten.Inc()
}

func (m *Metrics) RecordRead(result string) {
	if m == nil {
		return
	}
	m.RecordReads.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPurged(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsPurged.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Sweep(outcome string, records, syncItems int64) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
	if records > 0 {
		m.SweepRemoved.WithLabelValues("records").Add(float64(records))
	}
	if syncItems > 0 {
		m.SweepRemoved.WithLabelValues("sync_items").Add(float64(syncItems))
	}
}

func (m *Metrics) AutoSave(criticality, outcome string) {
	if m == nil {
		return
	}
	m.AutoSaves.WithLabelValues(criticality, outcome).Inc()
}

func (m *Metrics) SignatureTransition(status string) {
	if m == nil {
		return
	}
	m.SignatureTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ShareRedeemed(outcome string) {
	if m == nil {
		return
	}
	m.ShareRedemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SyncUpload(outcome string) {
	if m == nil {
		return
	}
	m.SyncUploads.WithLabelValues(outcome).Inc()
}
