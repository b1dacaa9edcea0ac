// Package job implements the Job Lifecycle Manager: the state machine,
// per-job supervisor, and startup reconciliation policies from spec.md
// §4.8, modeled on mock_interview's cmd/pipeline/main.go
// start/stop/graceful-shutdown orchestration generalized from one static
// pipeline to a dynamic registry of named jobs.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mstreamhq/mstream/internal/driver"
	"github.com/mstreamhq/mstream/internal/metrics"
	"github.com/mstreamhq/mstream/internal/model"
)

// Supervisor owns one job's cancellation, driver goroutine, and metrics
// scope, and exposes the state machine spec.md §4.8 defines.
type Supervisor struct {
	spec   model.ConnectorSpec
	driver *driver.Driver
	scope  *metrics.JobScope

	mu        sync.Mutex
	state     model.JobState
	lastErr   error
	lastErrAt *time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

func newSupervisor(spec model.ConnectorSpec, d *driver.Driver, scope *metrics.JobScope) *Supervisor {
	d.OnRecord = func(rec *model.PipelineRecord) { scope.RecordEvent(len(rec.Value), rec.SourceTS) }
	return &Supervisor{spec: spec, driver: d, scope: scope, state: model.JobStopped}
}

// Start transitions Stopped -> Starting -> Running and runs the driver on
// its own goroutine until it returns, fails, or is cancelled by Stop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.state = model.JobStarting
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.scope.Start()

	go func() {
		defer close(done)
		s.mu.Lock()
		s.state = model.JobRunning
		s.mu.Unlock()

		err := s.driver.Run(runCtx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil && runCtx.Err() == nil {
			s.state = model.JobFailed
			s.lastErr = err
			now := time.Now()
			s.lastErrAt = &now
			s.scope.RecordError()
		} else {
			s.state = model.JobStopped
		}
	}()
}

// Stop asserts the cancellation token at once and waits up to drainTimeout
// for the driver goroutine to return. Cancellation is not held back until
// the in-flight record finishes: that record's middleware, sink and
// checkpoint calls run under the cancelled context.
func (s *Supervisor) Stop(drainTimeout time.Duration) error {
	s.mu.Lock()
	if s.state == model.JobStopped || s.state == model.JobFailed {
		s.mu.Unlock()
		return nil
	}
	s.state = model.JobStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return fmt.Errorf("job %q: drain timeout exceeded after %s", s.spec.Name, drainTimeout)
	}
}

// Record returns the external snapshot of this job's state.
func (s *Supervisor) Record() model.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := model.JobRecord{Name: s.spec.Name, Spec: s.spec, State: s.state}
	if s.lastErr != nil {
		rec.LastError = s.lastErr.Error()
		rec.LastErrorAt = s.lastErrAt
	}
	return rec
}
