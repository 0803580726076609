// Package nats backs the broker contracts with a JetStream stream. All
// domain events, inbound and outcome alike, live on one subject so replay
// preserves publish order.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/broker"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/ingest"
)

const (
	StreamName      = "VARSLINGER"
	StreamSubjects  = "varslinger.>"
	EventSubject    = "varslinger.hendelser"
	DurableConsumer = "varslingd-projection"
)

type Bus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

func New(ctx context.Context, url string) (*Bus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Bus{
		conn:   conn,
		js:     js,
		stream: stream,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, event *domain.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.js.Publish(ctx, EventSubject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Consume pulls events one at a time through the durable consumer. The
// single in-flight message is what gives per-aggregate apply order.
func (b *Bus) Consume(ctx context.Context, handler broker.Handler) error {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       DurableConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: EventSubject,
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			slog.Error("error fetching messages", slog.String("code", "BROKER_ERROR"), slog.Any("error", err))
			continue
		}

		for msg := range msgs.Messages() {
			b.processMessage(ctx, msg, handler)
		}
	}
}

func (b *Bus) processMessage(ctx context.Context, msg jetstream.Msg, handler broker.Handler) {
	var event domain.DomainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// undecodable events cannot heal on redelivery
		slog.Error("failed to unmarshal event", slog.String("code", "EVENT_DECODE"), slog.Any("error", err))
		msg.Ack()
		return
	}

	if err := handler(ctx, &event); err != nil {
		if errors.Is(err, ingest.ErrValidationConflict) {
			slog.Error("divergent duplicate creation event, manual reconciliation required",
				slog.String("code", "EVENT_CONFLICT"),
				slog.String("event_id", event.EventID.String()),
				slog.Any("error", err),
			)
			msg.Ack()
			return
		}
		slog.Error("failed to apply event, requesting redelivery",
			slog.String("code", "EVENT_APPLY"),
			slog.String("event_id", event.EventID.String()),
			slog.Any("error", err),
		)
		msg.Nak()
		return
	}

	msg.Ack()
}

func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}
