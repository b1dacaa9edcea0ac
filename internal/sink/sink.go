// Package sink implements the four sink adapters (Mongo, Kafka, Pub/Sub,
// HTTP) behind one Write interface, plus the exponential-backoff retry
// policy every sink shares with the HTTP middleware.
package sink

import (
	"context"

	"github.com/mstreamhq/mstream/internal/model"
)

// Sink writes one PipelineRecord — which may represent a single event or a
// folded batch — and returns an Acknowledgement. Sinks must tolerate
// at-least-once redelivery after crash recovery.
type Sink interface {
	Write(ctx context.Context, record *model.PipelineRecord) model.Acknowledgement
	Close() error
}
