package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordWritten()
		m.RecordRead("hit")
		m.RecordPurged("corrupt", 1)
		m.Sweep("ok", 1, 1)
		m.AutoSave("critical", "ok")
		m.SignatureTransition("signed")
		m.ShareRedeemed("ok")
		m.SyncUpload("done")
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordWritten()
	m.RecordWritten()
	m.RecordRead("corrupt")
	m.RecordPurged("expired", 3)
	m.RecordPurged("expired", 0)
	m.Sweep("ok", 2, 0)
	m.Sweep("skipped", 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordReads.WithLabelValues("corrupt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsPurged.WithLabelValues("expired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepRemoved.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("skipped")))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ShareRedeemed("ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `medkeeper_shares_redemptions_total{outcome="ok"} 1`)
}
