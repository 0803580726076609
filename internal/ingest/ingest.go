// Package ingest applies domain events to the notice projection. Apply is
// idempotent: the event log redelivers, and multiple paths (broker consumer,
// outcome feedback) may apply the same event.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/events"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/logging"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

// ErrValidationConflict: a redelivered creation event carried different
// content for an existing varsel id. The event is dropped, never retried,
// and the original row stays untouched.
var ErrValidationConflict = errors.New("ingest: creation event conflicts with existing notice")

type Projector struct {
	store store.NoticeStore
	hub   *events.Hub
}

func NewProjector(noticeStore store.NoticeStore, hub *events.Hub) *Projector {
	return &Projector{store: noticeStore, hub: hub}
}

func (p *Projector) Apply(ctx context.Context, ev *domain.DomainEvent) error {
	ctx = logging.WithEventID(ctx, ev.EventID.String())
	ctx = logging.WithNotification(ctx, ev.AggregateID.String(), ev.Virksomhetsnummer)

	switch payload := ev.Payload.(type) {
	case domain.NotificationCreated:
		return p.applyCreated(ctx, ev, payload)
	case domain.HardDeleted:
		return p.applyHardDeleted(ctx, ev)
	case domain.ExternalNoticeSucceeded:
		return p.applyOutcome(ctx, ev, payload.VarselID, domain.StateSucceeded, payload.RawResponse, "", "")
	case domain.ExternalNoticeFailed:
		return p.applyOutcome(ctx, ev, payload.VarselID, domain.StateFailedPermanent, payload.RawResponse, payload.ErrorCode, payload.ErrorMessage)
	default:
		return fmt.Errorf("ingest: unhandled event kind %q", ev.Payload.Kind())
	}
}

func (p *Projector) applyCreated(ctx context.Context, ev *domain.DomainEvent, payload domain.NotificationCreated) error {
	l := logging.FromContext(ctx)

	for _, spec := range payload.Notices {
		if err := spec.Validate(); err != nil {
			// malformed specs never heal on redelivery
			return fmt.Errorf("%w: %w", ErrValidationConflict, err)
		}

		notice := domain.NoticeFromSpec(ev, spec)
		created, err := p.store.CreateNotice(ctx, notice)
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: varsel %s", ErrValidationConflict, spec.VarselID)
		}
		if err != nil {
			return fmt.Errorf("create notice %s: %w", spec.VarselID, err)
		}
		if !created {
			l.Info("creation event redelivered, notice unchanged",
				slog.String("code", "EVENT_DUPLICATE"),
				slog.String("varsel_id", spec.VarselID.String()),
			)
			continue
		}

		l.Info("external notice registered",
			slog.String("code", "NOTICE_CREATED"),
			slog.String("varsel_id", spec.VarselID.String()),
			slog.String("window", string(spec.Window)),
		)
		p.hub.Publish(events.Transition{
			VarselID:       spec.VarselID,
			NotificationID: ev.AggregateID,
			To:             domain.StateNew,
			At:             ev.Timestamp,
		})
	}
	return nil
}

func (p *Projector) applyHardDeleted(ctx context.Context, ev *domain.DomainEvent) error {
	if err := p.store.DeleteAggregate(ctx, ev.AggregateID); err != nil {
		return fmt.Errorf("hard delete aggregate %s: %w", ev.AggregateID, err)
	}
	logging.FromContext(ctx).Info("aggregate hard deleted, queued notices dropped",
		slog.String("code", "NOTICE_DELETED"),
	)
	return nil
}

func (p *Projector) applyOutcome(ctx context.Context, ev *domain.DomainEvent, varselID uuid.UUID, state domain.State, raw []byte, errorCode, errorMessage string) error {
	if err := p.store.MarkOutcome(ctx, varselID, state, raw, errorCode, errorMessage); err != nil {
		return fmt.Errorf("mark outcome for %s: %w", varselID, err)
	}
	p.hub.Publish(events.Transition{
		VarselID:       varselID,
		NotificationID: ev.AggregateID,
		From:           domain.StateSentAttempted,
		To:             state,
		At:             ev.Timestamp,
	})
	return nil
}
