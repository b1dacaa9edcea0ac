// Package checkpoint implements the durable checkpoint store keyed by job
// name, per spec.md §4.7, modeled on bjaus-etl's narrow
// LoadCheckpoint/SaveCheckpoint contract.
package checkpoint

import (
	"context"
	"time"

	"github.com/mstreamhq/mstream/internal/model"
)

// Record is the persisted checkpoint shape: {checkpoint_bytes, updated_at,
// source_ts}, keyed externally by job name.
type Record struct {
	Token    model.CheckpointToken
	SourceTS *time.Time
}

// Store is the narrow load/save contract the driver's commit goroutine
// calls after every acked record or batch.
type Store interface {
	Load(ctx context.Context, jobName string) (*Record, error)
	Save(ctx context.Context, jobName string, rec Record) error
}
