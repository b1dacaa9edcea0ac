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

// DriverFactory builds the fully wired driver.Driver for one ConnectorSpec:
// resolving its source/middleware/sink steps against the shared service
// registry, schema cache, and checkpoint store. The scope is the job's
// metrics.JobScope, already created, so sinks and middlewares can wire
// their retry policies to bump total_errors on every absorbed attempt
// failure. cmd/mstream/main.go supplies the concrete implementation.
type DriverFactory func(ctx context.Context, spec model.ConnectorSpec, scope *metrics.JobScope) (*driver.Driver, error)

// Manager is the Job Lifecycle Manager spec.md §4.8 describes: it owns
// every configured job's Supervisor and exposes create/stop/restart/list
// as a small API, the way mock_interview's cmd/pipeline/main.go owns and
// orchestrates its one static pipeline, generalized here to many
// independently named jobs.
type Manager struct {
	buildDriver  DriverFactory
	metrics      *metrics.Registry
	drainTimeout time.Duration

	mu   sync.RWMutex
	jobs map[string]*Supervisor
}

func NewManager(buildDriver DriverFactory, metricsRegistry *metrics.Registry, drainTimeout time.Duration) *Manager {
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Manager{
		buildDriver:  buildDriver,
		metrics:      metricsRegistry,
		drainTimeout: drainTimeout,
		jobs:         make(map[string]*Supervisor),
	}
}

// Create builds the driver for spec, registers its supervisor, and starts
// it when spec.Enabled is true (a disabled job stays Stopped). Returns an
// error if a job of this name is already registered.
func (m *Manager) Create(ctx context.Context, spec model.ConnectorSpec) error {
	m.mu.Lock()
	if _, exists := m.jobs[spec.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job %q already exists", spec.Name)
	}
	m.mu.Unlock()

	scope := m.metrics.Job(spec.Name)
	d, err := m.buildDriver(ctx, spec, scope)
	if err != nil {
		m.metrics.Remove(spec.Name)
		return fmt.Errorf("job %q: building driver: %w", spec.Name, err)
	}

	sup := newSupervisor(spec, d, scope)

	m.mu.Lock()
	if _, exists := m.jobs[spec.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job %q already exists", spec.Name)
	}
	m.jobs[spec.Name] = sup
	m.mu.Unlock()

	if spec.Enabled {
		sup.Start(ctx)
	}
	return nil
}

// Stop asserts the cancellation token for name and waits for its driver
// goroutine to drain, up to the manager's configured drain timeout.
func (m *Manager) Stop(name string) error {
	m.mu.RLock()
	sup, ok := m.jobs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return sup.Stop(m.drainTimeout)
}

// Restart stops name and re-creates it from its original spec, the way
// spec.md §4.8 describes restart as a stop followed by a fresh start
// rather than an in-place resume.
func (m *Manager) Restart(ctx context.Context, name string) error {
	m.mu.Lock()
	sup, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	delete(m.jobs, name)
	m.mu.Unlock()

	if err := sup.Stop(m.drainTimeout); err != nil {
		return err
	}
	m.metrics.Remove(name)
	return m.Create(ctx, sup.spec)
}

// Remove stops name, if running, and drops it from the registry entirely.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	sup, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	delete(m.jobs, name)
	m.mu.Unlock()

	err := sup.Stop(m.drainTimeout)
	m.metrics.Remove(name)
	return err
}

// List returns the current JobRecord for every registered job.
func (m *Manager) List() []model.JobRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.JobRecord, 0, len(m.jobs))
	for _, sup := range m.jobs {
		out = append(out, sup.Record())
	}
	return out
}

// StopAll drains every registered job, used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	sups := make([]*Supervisor, 0, len(m.jobs))
	for _, sup := range m.jobs {
		sups = append(sups, sup)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			_ = s.Stop(m.drainTimeout)
		}(sup)
	}
	wg.Wait()
}
