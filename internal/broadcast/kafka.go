package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes progress events to a single Kafka topic, partitioned by
// indicator ID so per-indicator ordering is preserved.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) PublishStarted(ctx context.Context, ev StartedEvent) error {
	return s.publish(ctx, SubjectExecutionStarted, ev.IndicatorID, ev)
}

func (s *KafkaSink) PublishCompleted(ctx context.Context, ev CompletedEvent) error {
	return s.publish(ctx, SubjectExecutionCompleted, ev.IndicatorID, ev)
}

func (s *KafkaSink) publish(ctx context.Context, kind, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(kind)},
		},
	}
	return s.writer.WriteMessages(ctx, msg)
}
