// Package consumer applies provider-side Kafka events to the booking engine.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
)

// ErrSkip marks a message that can never succeed. It is committed without retry.
var ErrSkip = errors.New("skip message")

type Handler func(ctx context.Context, msg kafka.Message) error

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Observer interface {
	ObserveConsumed(eventType, outcome string)
}

type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Consumer struct {
	reader   MessageReader
	inbox    inbox.Deduper
	handlers map[string]Handler
	observer Observer
	logger   *slog.Logger
	cfg      Config
}

// New routes each message to handlers[topic]. Topics without a handler are committed and ignored.
func New(reader MessageReader, dedupe inbox.Deduper, handlers map[string]Handler, observer Observer, logger *slog.Logger, cfg Config) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Consumer{
		reader:   reader,
		inbox:    dedupe,
		handlers: handlers,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
	}
}

func (c *Consumer) Topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	return topics
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka read error", "err", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		c.Process(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// Process handles one message end to end and returns the outcome label.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) string {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	outcome := c.process(ctx, msg, meta)
	if outcome == "failed" {
		span.SetStatus(codes.Error, "handler failed")
	}
	if c.observer != nil {
		c.observer.ObserveConsumed(meta.EventType, outcome)
	}
	return outcome
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) string {
	handler, ok := c.handlers[msg.Topic]
	if !ok {
		return "ignored"
	}

	if meta.EventID != "" {
		fresh, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
			return "failed"
		}
		if !fresh {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			return "duplicate"
		}
	}

	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err = handler(ctx, msg)
		if err == nil {
			return "ok"
		}
		if errors.Is(err, ErrSkip) {
			c.logger.Warn("event skipped", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			return "skipped"
		}
		if attempt < c.cfg.MaxAttempts && !sleep(ctx, c.cfg.Backoff*time.Duration(attempt)) {
			break
		}
	}

	c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
	if meta.EventID != "" {
		if ferr := c.inbox.Forget(context.WithoutCancel(ctx), meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
	}
	return "failed"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
