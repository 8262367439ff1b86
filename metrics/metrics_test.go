package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordExecution("local", true, nil, 20*time.Millisecond)
	m.RecordExecution("local", false, nil, time.Millisecond)
	m.RecordExecution("remote", false, errors.New("down"), time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Executions.WithLabelValues("local", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Executions.WithLabelValues("local", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Executions.WithLabelValues("remote", "error")))

	m.RecordBatch("cancelled", 3)
	m.RecordBatch("completed", 10)
	assert.Equal(t, float64(13), testutil.ToFloat64(m.BatchRuns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Batches.WithLabelValues("cancelled")))

	m.RecordTick(nil)
	m.RecordTick(errors.New("no credential"))
	m.RecordItems(2, 1, 4)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollTicks.WithLabelValues("failed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.PolledItems.WithLabelValues("duplicate")))

	m.TickStarted()
	m.TickStarted()
	m.TickFinished()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TicksActive))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordExecution("local", true, nil, time.Second)
		m.RecordBatch("completed", 1)
		m.RecordTick(nil)
		m.RecordItems(1, 1, 1)
		m.TickStarted()
		m.TickFinished()
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
