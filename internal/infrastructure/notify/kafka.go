package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes notifications to a Kafka topic keyed by recipient.
// The writer is asynchronous: enqueue never blocks on broker round trips,
// and write errors are logged from the writer's completion callback.
type KafkaSink struct {
	w         *kafka.Writer
	log       *zap.Logger
	closeOnce sync.Once
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.L()
	}
	log := logger.With(zap.String("component", "kafka_sink"), zap.String("topic", topic))
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn("notification_write_failed",
						zap.Int("messages", len(messages)),
						zap.Error(err),
					)
				}
			},
		},
		log: log,
	}
}

func (s *KafkaSink) Enqueue(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Recipient),
		Value: body,
	})
}

func (s *KafkaSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.w.Close()
	})
	return err
}
