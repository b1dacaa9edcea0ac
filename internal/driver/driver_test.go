package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/checkpoint"
	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/sink"
	"github.com/mstreamhq/mstream/internal/source"
)

type fakeStream struct {
	events []model.SourceEvent
	pos    int
}

func (f *fakeStream) Next(ctx context.Context) (*model.SourceEvent, error) {
	if f.pos >= len(f.events) {
		return nil, source.ErrStreamClosed
	}
	ev := f.events[f.pos]
	f.pos++
	return &ev, nil
}

func (f *fakeStream) Close() error { return nil }

type fakeSource struct {
	stream *fakeStream
}

func (s *fakeSource) Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, cp model.CheckpointToken) (source.Stream, error) {
	return s.stream, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []*model.PipelineRecord
	fail    bool
}

func (s *recordingSink) Write(ctx context.Context, rec *model.PipelineRecord) model.Acknowledgement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return model.Acknowledgement{SinkName: "fail-sink", Err: errors.New("boom")}
	}
	s.records = append(s.records, rec)
	return model.Acknowledgement{SinkName: "ok-sink"}
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memCheckpointStore struct {
	mu   sync.Mutex
	recs map[string]checkpoint.Record
}

func newMemStore() *memCheckpointStore {
	return &memCheckpointStore{recs: make(map[string]checkpoint.Record)}
}

func (m *memCheckpointStore) Load(ctx context.Context, jobName string) (*checkpoint.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jobName]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memCheckpointStore) Save(ctx context.Context, jobName string, rec checkpoint.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[jobName] = rec
	return nil
}

func TestDriverDeliversInOrderAndCommitsLastCheckpoint(t *testing.T) {
	events := []model.SourceEvent{
		{Payload: []byte(`{"a":1}`), Encoding: model.EncodingJSON, Checkpoint: model.CheckpointToken("t1")},
		{Payload: []byte(`{"a":2}`), Encoding: model.EncodingJSON, Checkpoint: model.CheckpointToken("t2")},
	}
	out := &recordingSink{}
	store := newMemStore()

	d := &Driver{
		JobName:     "orders",
		Source:      &fakeSource{stream: &fakeStream{events: events}},
		Sinks:       []sink.Sink{out},
		Checkpoints: store,
	}

	err := d.Run(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, out.count(), 2)
	assert.Equal(t, string(out.records[0].Value), `{"a":1}`)
	assert.Equal(t, string(out.records[1].Value), `{"a":2}`)

	rec, err := store.Load(context.Background(), "orders")
	assert.NilError(t, err)
	assert.Equal(t, string(rec.Token), "t2")
}

func TestDriverFailsJobWithoutCommittingOnSinkFailure(t *testing.T) {
	events := []model.SourceEvent{
		{Payload: []byte(`{"a":1}`), Encoding: model.EncodingJSON, Checkpoint: model.CheckpointToken("t1")},
	}
	failing := &recordingSink{fail: true}
	store := newMemStore()

	d := &Driver{
		JobName:     "orders",
		Source:      &fakeSource{stream: &fakeStream{events: events}},
		Sinks:       []sink.Sink{failing},
		Checkpoints: store,
	}

	err := d.Run(context.Background())
	assert.Assert(t, err != nil)

	rec, loadErr := store.Load(context.Background(), "orders")
	assert.NilError(t, loadErr)
	assert.Assert(t, rec == nil)
}

func TestDriverResumesFromLastCommittedCheckpoint(t *testing.T) {
	store := newMemStore()
	store.recs["orders"] = checkpoint.Record{Token: model.CheckpointToken("resume-token")}

	var seenCheckpoint model.CheckpointToken
	fs := &fakeStream{}
	src := &checkpointCapturingSource{stream: fs, capture: &seenCheckpoint}

	d := &Driver{JobName: "orders", Source: src, Checkpoints: store}
	err := d.Run(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, string(seenCheckpoint), "resume-token")
}

type checkpointCapturingSource struct {
	stream  *fakeStream
	capture *model.CheckpointToken
}

func (s *checkpointCapturingSource) Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, cp model.CheckpointToken) (source.Stream, error) {
	*s.capture = cp
	return s.stream, nil
}
