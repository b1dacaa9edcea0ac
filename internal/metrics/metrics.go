// Package metrics wraps armon/go-metrics with the per-job counters
// spec.md §4.9 names, modeled on the Collector/Snapshot shape from
// mock_interview's metrics.Collector. Each JobScope keeps its counters in
// sync/atomic fields (Snapshot and Aggregate read those) and also mirrors
// every increment into a real library sink.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/armon/go-metrics"
)

// Registry owns one process-wide armon/go-metrics instance and one
// JobScope per running job.
type Registry struct {
	metrics *gometrics.Metrics
	sink    *gometrics.InmemSink

	mu   sync.Mutex
	jobs map[string]*JobScope
}

// NewRegistry builds a Registry backed by an in-memory sink retaining one
// minute of 10-second interval buckets.
func NewRegistry() *Registry {
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	conf := gometrics.DefaultConfig("mstream")
	conf.EnableHostname = false
	m, _ := gometrics.New(conf, sink)
	return &Registry{metrics: m, sink: sink, jobs: make(map[string]*JobScope)}
}

// Job returns the JobScope for name, creating it on first use.
func (r *Registry) Job(name string) *JobScope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if js, ok := r.jobs[name]; ok {
		return js
	}
	js := &JobScope{name: name, metrics: r.metrics}
	r.jobs[name] = js
	return js
}

// Remove drops a job's scope once its supervisor has stopped, so aggregate
// snapshots don't keep counting a job that no longer exists.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, name)
}

// Aggregate sums events_processed/bytes_processed/total_errors across all
// currently tracked jobs, per spec.md §4.9's "aggregate counters sum
// across running jobs".
func (r *Registry) Aggregate() Snapshot {
	r.mu.Lock()
	scopes := make([]*JobScope, 0, len(r.jobs))
	for _, js := range r.jobs {
		scopes = append(scopes, js)
	}
	r.mu.Unlock()

	var agg Snapshot
	for _, js := range scopes {
		s := js.Snapshot()
		agg.EventsProcessed += s.EventsProcessed
		agg.BytesProcessed += s.BytesProcessed
		agg.TotalErrors += s.TotalErrors
	}
	return agg
}

// JobScope is the lock-free per-job counter set spec.md §4.9 names:
// events_processed, bytes_processed, total_errors, last_processed_at,
// last_source_ts, plus the derived current_lag/throughput.
type JobScope struct {
	name    string
	metrics *gometrics.Metrics

	eventsProcessed int64
	bytesProcessed  int64
	totalErrors     int64
	startedAt       atomic.Value // time.Time
	lastProcessedAt atomic.Value // time.Time
	lastSourceTS    atomic.Value // time.Time
}

// RecordEvent increments events/bytes processed and stamps the
// last-processed and last-source timestamps, per spec.md §4.9.
func (j *JobScope) RecordEvent(byteCount int, sourceTS *time.Time) {
	atomic.AddInt64(&j.eventsProcessed, 1)
	atomic.AddInt64(&j.bytesProcessed, int64(byteCount))
	j.lastProcessedAt.Store(time.Now())
	if sourceTS != nil {
		j.lastSourceTS.Store(*sourceTS)
	}
	j.metrics.IncrCounter([]string{"job", j.name, "events_processed"}, 1)
	j.metrics.IncrCounter([]string{"job", j.name, "bytes_processed"}, float32(byteCount))
}

// RecordError increments total_errors.
func (j *JobScope) RecordError() {
	atomic.AddInt64(&j.totalErrors, 1)
	j.metrics.IncrCounter([]string{"job", j.name, "total_errors"}, 1)
}

// Snapshot is a point-in-time view of one job's counters.
type Snapshot struct {
	JobName         string
	EventsProcessed int64
	BytesProcessed  int64
	TotalErrors     int64
	LastProcessedAt *time.Time
	LastSourceTS    *time.Time
	CurrentLag      time.Duration
	Throughput      float64
}

// Snapshot computes the derived current_lag and throughput alongside the
// raw counters, per spec.md §4.9.
func (j *JobScope) Snapshot() Snapshot {
	s := Snapshot{
		JobName:         j.name,
		EventsProcessed: atomic.LoadInt64(&j.eventsProcessed),
		BytesProcessed:  atomic.LoadInt64(&j.bytesProcessed),
		TotalErrors:     atomic.LoadInt64(&j.totalErrors),
	}
	if v := j.lastProcessedAt.Load(); v != nil {
		t := v.(time.Time)
		s.LastProcessedAt = &t
	}
	if v := j.lastSourceTS.Load(); v != nil {
		t := v.(time.Time)
		s.LastSourceTS = &t
		s.CurrentLag = time.Since(t)
	}
	if v := j.startedAt.Load(); v != nil {
		if elapsed := time.Since(v.(time.Time)).Seconds(); elapsed > 0 {
			s.Throughput = float64(s.EventsProcessed) / elapsed
		}
	}
	return s
}

// Start marks the window throughput is computed against. Called once by
// the job supervisor when the driver begins running.
func (j *JobScope) Start() {
	j.startedAt.Store(time.Now())
	j.metrics.IncrCounter([]string{"job", j.name, "started"}, 1)
}
