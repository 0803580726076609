package broker

import (
	"context"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

// Publisher appends domain events to the shared event log. Publication is
// at-least-once; consumers must tolerate redelivery.
type Publisher interface {
	Publish(ctx context.Context, event *domain.DomainEvent) error
	Close() error
}

// Handler processes one inbound event. Returning an error requests
// redelivery, except for validation conflicts which the consumer drops
// after logging (they never heal on retry).
type Handler func(ctx context.Context, event *domain.DomainEvent) error

// Consumer feeds inbound events to a handler, one at a time, so events
// sharing an aggregate are applied in publish order.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}
