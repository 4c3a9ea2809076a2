package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveURL(model.OutcomeExtracted, 2*time.Second)
	m.ObserveURL(model.OutcomeExtracted, time.Second)
	m.ObserveURL(model.OutcomePastDate, time.Second)
	m.Failure("extract", resilience.KindFieldCount)
	m.Tokens("relevance", 120)
	m.Tokens("relevance", 0)
	m.Batch("ok")
	m.Progress(3, 10, 90*time.Second)
	m.RunFinished(model.RunStatusComplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.urls.WithLabelValues("extracted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.urls.WithLabelValues("past_date")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("extract", "field_count_mismatch")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.tokens.WithLabelValues("relevance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.urlsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.urlsDone))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.etaSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("complete")))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveURL(model.OutcomeExtracted, time.Second)
		m.Failure("fetch", resilience.KindNetwork)
		m.Tokens("extract", 5)
		m.Batch("failed")
		m.Progress(1, 2, time.Second)
		m.RunFinished(model.RunStatusFailed)
	})
}
