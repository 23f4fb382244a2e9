package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

var _ Transport = (*KafkaTransport)(nil)

// KafkaTransport talks to a Kafka cluster. Consumer groups map directly onto
// Kafka consumer groups.
type KafkaTransport struct {
	brokers []string
	async   bool
	logger  *slog.Logger
}

// NewKafkaTransport returns a transport for the given bootstrap brokers. With
// async set, writes return before the cluster acknowledges them and failures
// are only logged.
func NewKafkaTransport(brokers []string, async bool, logger *slog.Logger) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka transport: at least one broker address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaTransport{brokers: brokers, async: async, logger: logger}, nil
}

func (t *KafkaTransport) NewWriter() (Writer, error) {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(t.brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  t.async,
	}
	if t.async {
		w.Completion = func(messages []kafkago.Message, err error) {
			if err != nil {
				t.logger.Error("async kafka write failed", "messages", len(messages), "error", err)
			}
		}
	}
	return &kafkaWriter{w: w}, nil
}

func (t *KafkaTransport) NewReader(_ context.Context, group string, topics []string) (Reader, error) {
	if group == "" || len(topics) == 0 {
		return nil, fmt.Errorf("reader needs a group and at least one topic")
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     t.brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
	})
	return &kafkaReader{r: r}, nil
}

type kafkaWriter struct {
	w *kafkago.Writer
}

func (w *kafkaWriter) Write(ctx context.Context, msgs ...Message) error {
	out := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafkago.Message{Topic: m.Topic, Key: []byte(m.Key), Value: m.Value, Time: m.Time}
	}
	return classifyKafka(w.w.WriteMessages(ctx, out...))
}

func (w *kafkaWriter) Close() error { return w.w.Close() }

type kafkaReader struct {
	r *kafkago.Reader
}

func (r *kafkaReader) Fetch(ctx context.Context, maxWait time.Duration) (Message, error) {
	fctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	km, err := r.r.FetchMessage(fctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return Message{}, ErrPartitionEOF
		}
		return Message{}, classifyKafka(err)
	}
	return Message{
		Topic:     km.Topic,
		Key:       string(km.Key),
		Value:     km.Value,
		Partition: km.Partition,
		Offset:    km.Offset,
		Time:      km.Time,
	}, nil
}

func (r *kafkaReader) Commit(ctx context.Context, m Message) error {
	return classifyKafka(r.r.CommitMessages(ctx, kafkago.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	}))
}

func (r *kafkaReader) Close() error { return r.r.Close() }

// classifyKafka marks retriable protocol errors and network timeouts as
// transient.
func classifyKafka(err error) error {
	if err == nil {
		return nil
	}
	var kerr kafkago.Error
	if errors.As(err, &kerr) && kerr.Temporary() {
		return markTransient(err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return markTransient(err)
	}
	return err
}
