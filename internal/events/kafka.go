package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the topic stock changes are written to.
const DefaultTopic = "zaloga.stock-changed"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes stock changes as JSON, keyed by stock item id so
// changes to one item keep their order within a partition.
type KafkaPublisher struct {
	w MessageWriter
}

// NewKafkaWriter returns a writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewKafkaPublisher wraps a writer.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// Publish writes all events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, evs ...StockChanged) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing stock changes: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encode(ev StockChanged) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding stock change: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.StockItemID),
		Value: value,
		Time:  ev.OccurredAt,
	}, nil
}

func decode(msg kafka.Message) (StockChanged, error) {
	var ev StockChanged
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("decoding stock change at offset %d: %w", msg.Offset, err)
	}
	return ev, nil
}

// NewKafkaReader returns a group reader for the given brokers and topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
}

// Consumer feeds stock changes read from Kafka to a Handler.
type Consumer struct {
	r       MessageReader
	handler Handler
	logger  *slog.Logger
}

// NewConsumer returns a consumer reading from r.
func NewConsumer(r MessageReader, h Handler, logger *slog.Logger) *Consumer {
	return &Consumer{r: r, handler: h, logger: logger}
}

// Run reads until ctx is cancelled. Messages that cannot be decoded are
// logged and committed; handler failures are logged and the message is
// committed anyway so one bad item cannot stall the partition.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("stock change consumer started")
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("stock change consumer stopped")
				return nil
			}
			return fmt.Errorf("fetching stock change: %w", err)
		}

		ev, err := decode(msg)
		if err != nil {
			c.logger.Error("dropping malformed stock change", "error", err)
		} else if err := c.handler.HandleStockChanged(ctx, ev); err != nil {
			c.logger.Error("handling stock change", "stock_item_id", ev.StockItemID, "error", err)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("committing stock change: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}
