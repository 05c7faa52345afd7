// Package events keeps replicas consistent: appointment events published by
// the backend invalidate the same cached views a local mutation would.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/vetdesk/libs/kafkax"
	otelx "github.com/md-rashed-zaman/vetdesk/libs/otel"
)

const (
	TopicBooked    = "booking.appointment.booked.v1"
	TopicCancelled = "booking.appointment.cancelled.v1"
	TopicUpdated   = "booking.appointment.updated.v1"
)

var Topics = []string{TopicBooked, TopicCancelled, TopicUpdated}

type Handler func(ctx context.Context, msg kafka.Message) error

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler Handler
}

func NewConsumer(logger *slog.Logger, cfg Config, handler Handler) *Consumer {
	if len(cfg.Topics) == 0 {
		cfg.Topics = Topics
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader, logger: logger, handler: handler}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otelx.Tracer("events").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := c.handler(ctxSpan, msg); err != nil {
			meta := kafkax.ExtractEventMeta(msg)
			c.logger.Error("event handler error", "err", err, "event_id", meta.EventID, "topic", msg.Topic)
			span.RecordError(err)
		}
		span.End()
	}
}
