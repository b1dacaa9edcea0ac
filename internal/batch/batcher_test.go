package batch

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/model"
)

func event(payload string, token string) model.SourceEvent {
	return model.SourceEvent{
		Payload:    []byte(payload),
		Encoding:   model.EncodingJSON,
		Checkpoint: model.CheckpointToken(token),
	}
}

func TestBatcherFoldsOnceSizeReached(t *testing.T) {
	b := &Batcher{Size: 3, OutputEncoding: model.EncodingJSON}

	rec, err := b.Add(event(`{"a":1}`, "t1"))
	assert.NilError(t, err)
	assert.Assert(t, rec == nil)

	rec, err = b.Add(event(`{"a":2}`, "t2"))
	assert.NilError(t, err)
	assert.Assert(t, rec == nil)

	rec, err = b.Add(event(`{"a":3}`, "t3"))
	assert.NilError(t, err)
	assert.Assert(t, rec != nil)
	assert.Equal(t, len(rec.Checkpoints), 3)
	assert.Equal(t, string(rec.LatestCheckpoint()), "t3")
}

func TestBatcherFlushesPartialGroupOnClose(t *testing.T) {
	b := &Batcher{Size: 10, OutputEncoding: model.EncodingJSON}
	_, err := b.Add(event(`{"a":1}`, "t1"))
	assert.NilError(t, err)

	rec, err := b.Flush()
	assert.NilError(t, err)
	assert.Assert(t, rec != nil)
	assert.Equal(t, len(rec.Checkpoints), 1)
}

func TestBatcherPreservesSourceOrderInCheckpoints(t *testing.T) {
	b := &Batcher{Size: 3, OutputEncoding: model.EncodingJSON}
	b.Add(event(`{"a":1}`, "t1"))
	b.Add(event(`{"a":2}`, "t2"))
	rec, _ := b.Add(event(`{"a":3}`, "t3"))

	want := []string{"t1", "t2", "t3"}
	for i, cp := range rec.Checkpoints {
		assert.Equal(t, string(cp), want[i])
	}
}

func TestBatcherFlushOnEmptyIsNoop(t *testing.T) {
	b := &Batcher{Size: 3, OutputEncoding: model.EncodingJSON}
	rec, err := b.Flush()
	assert.NilError(t, err)
	assert.Assert(t, rec == nil)
}

func TestBatcherSingleEventSkipsFraming(t *testing.T) {
	b := &Batcher{Size: 1, OutputEncoding: model.EncodingJSON}
	rec, err := b.Add(event(`{"a":1}`, "t1"))
	assert.NilError(t, err)
	assert.Equal(t, string(rec.Value), `{"a":1}`)
}
