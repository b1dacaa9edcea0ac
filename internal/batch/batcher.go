// Package batch implements the count-based accumulator that folds N
// SourceEvents into one PipelineRecord, per spec.md §4.4.
package batch

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mstreamhq/mstream/internal/model"
)

// Batcher accumulates SourceEvents up to Size, folding each full (or, on
// Flush, partial) group into one PipelineRecord. Not safe for concurrent
// use — one Batcher per job, fed from the single source-reading goroutine.
type Batcher struct {
	Size           int
	OutputEncoding model.Encoding
	// SinkIsMongo frames a batch as a single {items: [...]} BSON document
	// instead of an array in OutputEncoding, per spec.md §4.4/§4.6.
	SinkIsMongo bool

	pending []model.SourceEvent
}

// Add appends ev to the pending group. When the group reaches Size, it
// folds and returns the record; otherwise it returns nil, nil.
func (b *Batcher) Add(ev model.SourceEvent) (*model.PipelineRecord, error) {
	b.pending = append(b.pending, ev)
	if len(b.pending) < b.Size {
		return nil, nil
	}
	return b.Flush()
}

// Flush folds whatever is pending (possibly a partial group) into one
// PipelineRecord. Called unconditionally when the source stream closes.
func (b *Batcher) Flush() (*model.PipelineRecord, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	group := b.pending
	b.pending = nil

	if len(group) == 1 {
		return b.single(group[0])
	}
	return b.fold(group)
}

func (b *Batcher) single(ev model.SourceEvent) (*model.PipelineRecord, error) {
	return &model.PipelineRecord{
		Value:       ev.Payload,
		Encoding:    ev.Encoding,
		Attributes:  ev.Attributes,
		SourceTS:    ev.SourceTS,
		Checkpoints: []model.CheckpointToken{ev.Checkpoint},
	}, nil
}

func (b *Batcher) fold(group []model.SourceEvent) (*model.PipelineRecord, error) {
	last := group[len(group)-1]
	checkpoints := make([]model.CheckpointToken, len(group))
	for i, ev := range group {
		checkpoints[i] = ev.Checkpoint
	}

	var value []byte
	var err error
	if b.SinkIsMongo {
		value, err = frameBSON(group)
	} else {
		value, err = frameArray(group, b.OutputEncoding)
	}
	if err != nil {
		return nil, err
	}

	return &model.PipelineRecord{
		Value:       value,
		Encoding:    b.OutputEncoding,
		Attributes:  last.Attributes,
		SourceTS:    last.SourceTS,
		Checkpoints: checkpoints,
	}, nil
}

func frameBSON(group []model.SourceEvent) ([]byte, error) {
	items := make([]bson.Raw, len(group))
	for i, ev := range group {
		items[i] = bson.Raw(ev.Payload)
	}
	return bson.Marshal(bson.M{"items": items})
}

func frameArray(group []model.SourceEvent, enc model.Encoding) ([]byte, error) {
	if enc == model.EncodingJSON {
		raw := make([]json.RawMessage, len(group))
		for i, ev := range group {
			raw[i] = ev.Payload
		}
		return json.Marshal(raw)
	}
	// Avro/Other have no native array framing; concatenation is undefined,
	// so a non-JSON, non-Mongo batch sink is a configuration error the
	// validator should have already rejected.
	raw := make([][]byte, len(group))
	for i, ev := range group {
		raw[i] = ev.Payload
	}
	return json.Marshal(raw)
}
