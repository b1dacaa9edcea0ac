package source

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/mstreamhq/mstream/internal/model"
)

// PubSubSource pulls from a subscription under the configured client.
// Pub/Sub has no durable resume point the driver can pass back in, so
// checkpoint is always ignored on Open, per spec.md §4.1.
type PubSubSource struct {
	Client *pubsub.Client
}

func (s *PubSubSource) Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, checkpoint model.CheckpointToken) (Stream, error) {
	if inputEncoding == "" {
		return nil, fmt.Errorf("source: pubsub subscription %q requires an input_encoding", ref.Resource)
	}
	sub := s.Client.Subscription(ref.Resource)

	pullCtx, cancel := context.WithCancel(context.Background())
	st := &pubsubStream{
		records:       make(chan *model.SourceEvent),
		errCh:         make(chan error, 1),
		cancel:        cancel,
		inputEncoding: inputEncoding,
	}

	go func() {
		err := sub.Receive(pullCtx, func(_ context.Context, m *pubsub.Message) {
			ts := m.PublishTime
			attrs := make(map[string]string, len(m.Attributes))
			for k, v := range m.Attributes {
				attrs[k] = v
			}
			select {
			case st.records <- &model.SourceEvent{
				Payload:    m.Data,
				Encoding:   inputEncoding,
				Attributes: attrs,
				SourceTS:   &ts,
			}:
				m.Ack()
			case <-pullCtx.Done():
				m.Nack()
			}
		})
		if err != nil && pullCtx.Err() == nil {
			select {
			case st.errCh <- &model.FatalSourceError{Reason: "pubsub receive loop terminated", Err: err}:
			default:
			}
		}
		close(st.records)
	}()

	return st, nil
}

type pubsubStream struct {
	records       chan *model.SourceEvent
	errCh         chan error
	cancel        context.CancelFunc
	inputEncoding model.Encoding
}

func (p *pubsubStream) Next(ctx context.Context) (*model.SourceEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-p.errCh:
		return nil, err
	case ev, ok := <-p.records:
		if !ok {
			return nil, ErrStreamClosed
		}
		return ev, nil
	}
}

func (p *pubsubStream) Close() error {
	p.cancel()
	return nil
}
