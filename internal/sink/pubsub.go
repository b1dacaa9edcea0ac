package sink

import (
	"context"

	"cloud.google.com/go/pubsub"

	"github.com/mstreamhq/mstream/internal/model"
)

// PubSubSink publishes one message per record, carrying the record's
// attributes (operation_type/database/collection for Mongo-origin events,
// plus anything middleware added) straight through, per spec.md §4.6.
type PubSubSink struct {
	Name           string
	Topic          *pubsub.Topic
	OutputEncoding model.Encoding
	Schema         *model.SchemaRecord
	Retry          RetryPolicy
}

func (s *PubSubSink) Write(ctx context.Context, rec *model.PipelineRecord) model.Acknowledgement {
	err := s.Retry.Do(ctx, func() error { return s.publish(ctx, rec) })
	return model.Acknowledgement{SinkName: s.Name, Err: err}
}

func (s *PubSubSink) publish(ctx context.Context, rec *model.PipelineRecord) error {
	value, _, err := targetEncoding(s.Name, rec, s.OutputEncoding, s.Schema)
	if err != nil {
		return err
	}
	result := s.Topic.Publish(ctx, &pubsub.Message{
		Data:       value,
		Attributes: rec.Attributes,
	})
	_, err = result.Get(ctx)
	return err
}

func (s *PubSubSink) Close() error {
	s.Topic.Stop()
	return nil
}
