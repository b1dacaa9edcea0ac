package sink

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/mstreamhq/mstream/internal/model"
)

// KafkaSink produces one message per record, or N messages in source order
// for a batch, modeled on goconnect's pkg/io/kafka1x Sink delivery-report
// loop collapsed into a per-call delivery channel.
type KafkaSink struct {
	Name           string
	Producer       *kafka.Producer
	Topic          string
	OutputEncoding model.Encoding // wire encoding required on this topic; empty means accept whatever arrives
	Schema         *model.SchemaRecord
	Retry          RetryPolicy
}

func (s *KafkaSink) Write(ctx context.Context, rec *model.PipelineRecord) model.Acknowledgement {
	err := s.Retry.Do(ctx, func() error { return s.produce(rec) })
	return model.Acknowledgement{SinkName: s.Name, Err: err}
}

func (s *KafkaSink) produce(rec *model.PipelineRecord) error {
	value, enc, err := targetEncoding(s.Name, rec, s.OutputEncoding, s.Schema)
	if err != nil {
		return err
	}
	items := splitBatch(value, enc)
	deliveries := make(chan kafka.Event, len(items))
	for _, item := range items {
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &s.Topic, Partition: kafka.PartitionAny},
			Value:          item,
		}
		if key := extractKey(item, enc); key != nil {
			msg.Key = key
		}
		if err := s.Producer.Produce(msg, deliveries); err != nil {
			return err
		}
	}
	for i := 0; i < len(items); i++ {
		ev := <-deliveries
		m, ok := ev.(*kafka.Message)
		if ok && m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.Producer.Flush(15 * 1000)
	s.Producer.Close()
	return nil
}
