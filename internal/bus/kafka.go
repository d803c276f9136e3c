package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaTransport uses a Kafka topic as the shared channel. Each instance
// reads with its own consumer group so every instance sees every message.
type KafkaTransport struct {
	w *kafka.Writer
	r *kafka.Reader
}

// NewKafkaTransport writes to and reads from topic. groupID must be unique
// per instance. A new group starts at the end of the topic: there is no
// backfill.
func NewKafkaTransport(brokers []string, topic, groupID string) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers", ErrChannelUnavailable)
	}
	if groupID == "" {
		return nil, errors.New("kafka group id required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return &KafkaTransport{w: w, r: r}, nil
}

func (k *KafkaTransport) Publish(ctx context.Context, payload []byte) error {
	return k.w.WriteMessages(ctx, kafka.Message{
		Value: payload,
		Time:  time.Now(),
	})
}

func (k *KafkaTransport) Next(ctx context.Context) ([]byte, error) {
	m, err := k.r.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return m.Value, nil
}

func (k *KafkaTransport) Close() error {
	werr := k.w.Close()
	rerr := k.r.Close()
	return errors.Join(werr, rerr)
}
