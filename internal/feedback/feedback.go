// Package feedback turns dispatch results into outcome events. Terminal
// outcomes are published to the event log and applied straight back through
// the projection; retryable ones only re-enter the wait queue.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/adapter"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/broker"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/events"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/ingest"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/logging"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/retry"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

const sourceApp = "varslingd"

// Classifier decides whether a provider error code is permanent. The
// configured set is permanent; everything else is retryable, favoring
// eventual delivery over silent loss.
type Classifier struct {
	permanent map[string]struct{}
}

func NewClassifier(permanentCodes []string) *Classifier {
	m := make(map[string]struct{}, len(permanentCodes))
	for _, code := range permanentCodes {
		m[code] = struct{}{}
	}
	return &Classifier{permanent: m}
}

func (c *Classifier) Permanent(code string) bool {
	_, ok := c.permanent[code]
	return ok
}

type Publisher struct {
	store      store.NoticeStore
	producer   broker.Publisher
	projector  *ingest.Projector
	classifier *Classifier
	backoff    *retry.Backoff
	hub        *events.Hub
	now        func() time.Time
}

func NewPublisher(
	noticeStore store.NoticeStore,
	producer broker.Publisher,
	projector *ingest.Projector,
	classifier *Classifier,
	backoff *retry.Backoff,
	hub *events.Hub,
) *Publisher {
	return &Publisher{
		store:      noticeStore,
		producer:   producer,
		projector:  projector,
		classifier: classifier,
		backoff:    backoff,
		hub:        hub,
		now:        time.Now,
	}
}

// WithClock overrides the time source; tests drive scheduling decisions
// through it.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Handle records the result of one adapter call. A non-nil sendErr is a
// transport failure and always retryable.
func (p *Publisher) Handle(ctx context.Context, notice *domain.ExternalNotice, resp *adapter.Response, sendErr error) error {
	ctx = logging.WithVarselID(ctx, notice.VarselID.String())
	ctx = logging.WithNotification(ctx, notice.NotificationID.String(), notice.Virksomhetsnummer)
	l := logging.FromContext(ctx)

	switch {
	case sendErr != nil:
		l.Warn("dispatch transport failure, will retry",
			slog.String("code", "DISPATCH_TRANSPORT"),
			slog.Int("attempt", notice.RetryCount+1),
			slog.Any("error", sendErr),
		)
		return p.requeue(ctx, notice)

	case resp.Sent:
		l.Info("external notice delivered", slog.String("code", "DISPATCH_OK"))
		return p.publishOutcome(ctx, notice, domain.ExternalNoticeSucceeded{
			VarselID:    notice.VarselID,
			RawResponse: resp.Raw,
		}, domain.StateSucceeded)

	case p.classifier.Permanent(resp.ErrorCode):
		l.Error("external notice permanently failed",
			slog.String("code", "DISPATCH_FAILED"),
			slog.String("error_code", resp.ErrorCode),
			slog.String("error_message", resp.ErrorMessage),
		)
		return p.publishOutcome(ctx, notice, domain.ExternalNoticeFailed{
			VarselID:     notice.VarselID,
			ErrorCode:    resp.ErrorCode,
			ErrorMessage: resp.ErrorMessage,
			RawResponse:  resp.Raw,
		}, domain.StateFailedPermanent)

	default:
		l.Warn("provider rejected notice with unclassified code, will retry",
			slog.String("code", "DISPATCH_TRANSIENT"),
			slog.String("error_code", resp.ErrorCode),
			slog.Int("attempt", notice.RetryCount+1),
		)
		return p.requeue(ctx, notice)
	}
}

func (p *Publisher) requeue(ctx context.Context, notice *domain.ExternalNotice) error {
	at := p.now().Add(p.backoff.NextDelay(notice.RetryCount))
	if err := p.store.RequeueRetry(ctx, notice.VarselID, at); err != nil {
		return fmt.Errorf("requeue %s: %w", notice.VarselID, err)
	}
	p.hub.Publish(events.Transition{
		VarselID:       notice.VarselID,
		NotificationID: notice.NotificationID,
		From:           domain.StateSentAttempted,
		To:             domain.StateWaiting,
		At:             p.now(),
	})
	return nil
}

func (p *Publisher) publishOutcome(ctx context.Context, notice *domain.ExternalNotice, payload domain.Payload, state domain.State) error {
	event := &domain.DomainEvent{
		EventID:           uuid.New(),
		AggregateID:       notice.NotificationID,
		Virksomhetsnummer: notice.Virksomhetsnummer,
		ProdusentID:       notice.ProdusentID,
		KildeApp:          sourceApp,
		Timestamp:         p.now(),
		Payload:           payload,
	}

	// Publish first: if we crash here the notice stays visibly
	// SENT_ATTEMPTED, which is recoverable; the event log never lies.
	if err := p.producer.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish outcome for %s: %w", notice.VarselID, err)
	}

	if err := p.projector.Apply(ctx, event); err != nil {
		// the consumer will re-apply from the log; idempotent
		logging.FromContext(ctx).Warn("direct outcome apply failed, log replay will settle it",
			slog.String("code", "EVENT_APPLY"),
			slog.Any("error", err),
		)
	}

	if err := p.store.IncrementStat(ctx, state, p.now()); err != nil {
		logging.FromContext(ctx).Warn("failed to increment stats",
			slog.String("code", "DB_ERROR"),
			slog.Any("error", err),
		)
	}
	return nil
}
