package metrics

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestJobScopeTracksCountersAndLag(t *testing.T) {
	r := NewRegistry()
	job := r.Job("orders")
	job.Start()

	ts := time.Now().Add(-5 * time.Second)
	job.RecordEvent(128, &ts)
	job.RecordEvent(64, &ts)
	job.RecordError()

	snap := job.Snapshot()
	assert.Equal(t, snap.EventsProcessed, int64(2))
	assert.Equal(t, snap.BytesProcessed, int64(192))
	assert.Equal(t, snap.TotalErrors, int64(1))
	assert.Assert(t, snap.CurrentLag >= 5*time.Second)
}

func TestRegistryAggregatesAcrossJobs(t *testing.T) {
	r := NewRegistry()
	r.Job("orders").RecordEvent(10, nil)
	r.Job("invoices").RecordEvent(20, nil)

	agg := r.Aggregate()
	assert.Equal(t, agg.EventsProcessed, int64(2))
	assert.Equal(t, agg.BytesProcessed, int64(30))
}

func TestRegistryJobIsMemoized(t *testing.T) {
	r := NewRegistry()
	a := r.Job("orders")
	b := r.Job("orders")
	assert.Equal(t, a, b)
}
