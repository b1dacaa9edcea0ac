package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/mstreamhq/mstream/internal/model"
)

// kafkaCheckpoint is the wire shape of a Kafka CheckpointToken: one
// (topic, partition, offset) triple.
type kafkaCheckpoint struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// EncodeKafkaCheckpoint serializes a (topic, partition, offset) position
// into the opaque CheckpointToken format this adapter expects on reopen.
func EncodeKafkaCheckpoint(topic string, partition int32, offset int64) model.CheckpointToken {
	b, _ := json.Marshal(kafkaCheckpoint{Topic: topic, Partition: partition, Offset: offset})
	return b
}

func decodeKafkaCheckpoint(token model.CheckpointToken) (*kafkaCheckpoint, error) {
	if len(token) == 0 {
		return nil, nil
	}
	var cp kafkaCheckpoint
	if err := json.Unmarshal(token, &cp); err != nil {
		return nil, fmt.Errorf("source: decoding kafka checkpoint: %w", err)
	}
	return &cp, nil
}

// KafkaSource consumes one topic under the group id and client config
// declared on Service, modeled on goconnect's pkg/io/kafka1x Source
// channel-event loop.
type KafkaSource struct {
	Service model.ServiceDescriptor
}

func (s *KafkaSource) Open(ctx context.Context, ref model.ResourceReference, inputEncoding model.Encoding, checkpoint model.CheckpointToken) (Stream, error) {
	cfg := &kafka.ConfigMap{
		"go.events.channel.enable": true,
		"enable.auto.commit":      false,
	}
	for k, v := range s.Service.ClientConfig {
		if err := cfg.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("source: invalid kafka client config key %q: %w", k, err)
		}
	}

	checkpointCp, err := decodeKafkaCheckpoint(checkpoint)
	if err != nil {
		return nil, err
	}

	seekBack := s.Service.OffsetSeekBackSeconds > 0
	st := &kafkaStream{
		topic:         ref.Resource,
		inputEncoding: inputEncoding,
		records:       make(chan *model.SourceEvent),
		closed:        make(chan struct{}),
		errCh:         make(chan error, 1),
	}

	// offset_seek_back_seconds always wins over a supplied checkpoint, per
	// spec.md §4.1.
	rebalanceCb := func(c *kafka.Consumer, event kafka.Event) error {
		switch e := event.(type) {
		case kafka.AssignedPartitions:
			partitions := e.Partitions
			switch {
			case seekBack:
				deadlineMs := time.Now().Add(-time.Duration(s.Service.OffsetSeekBackSeconds) * time.Second).UnixMilli()
				for i := range partitions {
					partitions[i].Offset = kafka.Offset(deadlineMs)
				}
				resolved, err := c.OffsetsForTimes(partitions, 10000)
				if err != nil {
					return err
				}
				partitions = resolved
			case checkpointCp != nil:
				for i := range partitions {
					if partitions[i].Partition == checkpointCp.Partition {
						partitions[i].Offset = kafka.Offset(checkpointCp.Offset + 1)
					}
				}
			}
			return c.Assign(partitions)
		case kafka.RevokedPartitions:
			return c.Unassign()
		}
		return nil
	}

	c, err := kafka.NewConsumer(cfg)
	if err != nil {
		return nil, fmt.Errorf("source: creating kafka consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{ref.Resource}, rebalanceCb); err != nil {
		c.Close()
		return nil, fmt.Errorf("source: subscribing to topic %q: %w", ref.Resource, err)
	}
	st.c = c

	go st.run()
	return st, nil
}

type kafkaStream struct {
	c             *kafka.Consumer
	topic         string
	inputEncoding model.Encoding
	records       chan *model.SourceEvent
	errCh         chan error
	closed        chan struct{}
}

func (k *kafkaStream) run() {
	defer close(k.records)
	for {
		select {
		case <-k.closed:
			return
		case event := <-k.c.Events():
			switch e := event.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					select {
					case k.errCh <- e.TopicPartition.Error:
					default:
					}
					return
				}
				k.records <- k.toEvent(e)
			case kafka.Error:
				if e.Code() == kafka.ErrTransport || isAuthRevocation(e) {
					select {
					case k.errCh <- &model.FatalSourceError{Reason: "kafka authorization revoked", Err: e}:
					default:
					}
					return
				}
				fmt.Fprintf(os.Stderr, "source: kafka error: %v\n", e)
			}
		}
	}
}

func isAuthRevocation(e kafka.Error) bool {
	return e.Code() == kafka.ErrTopicAuthorizationFailed || e.Code() == kafka.ErrGroupAuthorizationFailed
}

func (k *kafkaStream) toEvent(m *kafka.Message) *model.SourceEvent {
	ts := m.Timestamp
	return &model.SourceEvent{
		Payload:  m.Value,
		Encoding: k.inputEncoding,
		Attributes: map[string]string{
			model.AttrTopic:     *m.TopicPartition.Topic,
			model.AttrPartition: fmt.Sprintf("%d", m.TopicPartition.Partition),
			model.AttrOffset:    fmt.Sprintf("%d", int64(m.TopicPartition.Offset)),
		},
		SourceTS:   &ts,
		Checkpoint: EncodeKafkaCheckpoint(*m.TopicPartition.Topic, m.TopicPartition.Partition, int64(m.TopicPartition.Offset)),
	}
}

func (k *kafkaStream) Next(ctx context.Context) (*model.SourceEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-k.errCh:
		return nil, err
	case ev, ok := <-k.records:
		if !ok {
			return nil, ErrStreamClosed
		}
		return ev, nil
	}
}

func (k *kafkaStream) Close() error {
	close(k.closed)
	return k.c.Close()
}
