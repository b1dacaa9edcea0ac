// Package source implements the three source adapters (Mongo change
// streams, Kafka consumer groups, Pub/Sub pull subscriptions) behind one
// pull-based Stream interface, modeled on goconnect's
// Source.Records()/Commit()/Close() triad collapsed into a single
// Next/Close pair the driver can poll.
package source

import (
	"context"
	"errors"

	"github.com/mstreamhq/mstream/internal/model"
)

// ErrStreamClosed is returned by Stream.Next once the upstream source has
// drained with no further events pending: a closed Kafka consumer, a
// cancelled Pub/Sub receive loop, or an explicit Close call.
var ErrStreamClosed = errors.New("source: stream closed")

// Stream yields SourceEvents in source order. A *model.FatalSourceError
// return means no further calls should be made: the job fails and no
// checkpoint is written for the event that triggered it.
type Stream interface {
	Next(ctx context.Context) (*model.SourceEvent, error)
	Close() error
}

// Source opens a Stream for one resource, applying checkpoint (nil when
// absent or unsupported) as the resume position.
type Source interface {
	Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, checkpoint model.CheckpointToken) (Stream, error)
}
