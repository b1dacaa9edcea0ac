package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/checkpoint"
	"github.com/mstreamhq/mstream/internal/config"
	"github.com/mstreamhq/mstream/internal/driver"
	"github.com/mstreamhq/mstream/internal/metrics"
	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/sink"
	"github.com/mstreamhq/mstream/internal/source"
)

// blockingStream never returns an event until Close is called, so its
// Driver.Run stays in the Running state until the supervisor cancels it.
type blockingStream struct {
	closed chan struct{}
}

func newBlockingStream() *blockingStream { return &blockingStream{closed: make(chan struct{})} }

func (s *blockingStream) Next(ctx context.Context) (*model.SourceEvent, error) {
	select {
	case <-ctx.Done():
		return nil, context.Canceled
	case <-s.closed:
		return nil, source.ErrStreamClosed
	}
}

func (s *blockingStream) Close() error {
	close(s.closed)
	return nil
}

type blockingSource struct {
	stream *blockingStream
}

func (s *blockingSource) Open(ctx context.Context, ref model.ResourceReference, enc model.Encoding, cp model.CheckpointToken) (source.Stream, error) {
	return s.stream, nil
}

type failingSource struct{ err error }

func (s *failingSource) Open(ctx context.Context, ref model.ResourceReference, enc model.Encoding, cp model.CheckpointToken) (source.Stream, error) {
	return nil, s.err
}

func testDriver(name string, src source.Source) *driver.Driver {
	return &driver.Driver{
		JobName:     name,
		Source:      src,
		Batcher:     nil,
		Sinks:       []sink.Sink{},
		Checkpoints: checkpoint.NoopStore{},
	}
}

func TestSupervisorRunsUntilStopped(t *testing.T) {
	bs := newBlockingStream()
	d := testDriver("orders", &blockingSource{stream: bs})
	sup := newSupervisor(model.ConnectorSpec{Name: "orders"}, d, metrics.NewRegistry().Job("orders"))

	sup.Start(context.Background())
	assert.Assert(t, pollState(sup, model.JobRunning, time.Second))

	assert.NilError(t, sup.Stop(time.Second))
	rec := sup.Record()
	assert.Equal(t, rec.State, model.JobStopped)
}

func TestSupervisorRecordsFailureWithoutStop(t *testing.T) {
	d := testDriver("orders", &failingSource{err: errors.New("boom")})
	sup := newSupervisor(model.ConnectorSpec{Name: "orders"}, d, metrics.NewRegistry().Job("orders"))

	sup.Start(context.Background())
	assert.Assert(t, pollState(sup, model.JobFailed, time.Second))

	rec := sup.Record()
	assert.Equal(t, rec.LastError != "", true)
}

func pollState(sup *Supervisor, want model.JobState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.Record().State == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestManagerCreateStopListRoundTrip(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewManager(func(ctx context.Context, spec model.ConnectorSpec, scope *metrics.JobScope) (*driver.Driver, error) {
		return testDriver(spec.Name, &blockingSource{stream: newBlockingStream()}), nil
	}, reg, 2*time.Second)

	err := m.Create(context.Background(), model.ConnectorSpec{Name: "orders", Enabled: true})
	assert.NilError(t, err)

	err = m.Create(context.Background(), model.ConnectorSpec{Name: "orders", Enabled: true})
	assert.ErrorContains(t, err, "already exists")

	records := m.List()
	assert.Equal(t, len(records), 1)
	assert.Equal(t, records[0].Name, "orders")

	assert.NilError(t, m.Stop("orders"))
	assert.ErrorContains(t, m.Stop("missing"), "not found")
}

func TestManagerDisabledJobStaysStopped(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewManager(func(ctx context.Context, spec model.ConnectorSpec, scope *metrics.JobScope) (*driver.Driver, error) {
		return testDriver(spec.Name, &blockingSource{stream: newBlockingStream()}), nil
	}, reg, time.Second)

	assert.NilError(t, m.Create(context.Background(), model.ConnectorSpec{Name: "orders", Enabled: false}))
	records := m.List()
	assert.Equal(t, records[0].State, model.JobStopped)
}

type fakeLifecycleStore struct {
	specs []model.ConnectorSpec
}

func (f *fakeLifecycleStore) LoadAll(ctx context.Context) ([]model.ConnectorSpec, error) {
	return f.specs, nil
}

func (f *fakeLifecycleStore) SaveAll(ctx context.Context, specs []model.ConnectorSpec) error {
	f.specs = specs
	return nil
}

func TestReconcileForceFromFileAlwaysOverwrites(t *testing.T) {
	store := &fakeLifecycleStore{specs: []model.ConnectorSpec{{Name: "old"}}}
	fileSpecs := []model.ConnectorSpec{{Name: "new"}}

	out, err := Reconcile(context.Background(), config.ReconcileForceFromFile, fileSpecs, store)
	assert.NilError(t, err)
	assert.Equal(t, len(out), 1)
	assert.Equal(t, out[0].Name, "new")
	assert.Equal(t, store.specs[0].Name, "new")
}

func TestReconcileSeedFromFileKeepsExistingStore(t *testing.T) {
	store := &fakeLifecycleStore{specs: []model.ConnectorSpec{{Name: "old"}}}
	fileSpecs := []model.ConnectorSpec{{Name: "new"}}

	out, err := Reconcile(context.Background(), config.ReconcileSeedFromFile, fileSpecs, store)
	assert.NilError(t, err)
	assert.Equal(t, out[0].Name, "old")
}

func TestReconcileSeedFromFileSeedsEmptyStore(t *testing.T) {
	store := &fakeLifecycleStore{}
	fileSpecs := []model.ConnectorSpec{{Name: "new"}}

	out, err := Reconcile(context.Background(), config.ReconcileSeedFromFile, fileSpecs, store)
	assert.NilError(t, err)
	assert.Equal(t, out[0].Name, "new")
	assert.Equal(t, store.specs[0].Name, "new")
}

func TestReconcileKeepPrefersExistingStoreOverFile(t *testing.T) {
	store := &fakeLifecycleStore{specs: []model.ConnectorSpec{{Name: "old"}}}
	fileSpecs := []model.ConnectorSpec{{Name: "new"}}

	out, err := Reconcile(context.Background(), config.ReconcileKeep, fileSpecs, store)
	assert.NilError(t, err)
	assert.Equal(t, out[0].Name, "old")
}
