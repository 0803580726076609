package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/adapter"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/events"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/ingest"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/retry"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store/memory"
)

// fakeProducer records published events in order.
type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.DomainEvent
}

func (f *fakeProducer) Publish(_ context.Context, ev *domain.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) published() []*domain.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.DomainEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fixture struct {
	store    *memory.Store
	producer *fakeProducer
	pub      *Publisher
	notice   *domain.ExternalNotice
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	hub := events.NewHub()
	producer := &fakeProducer{}
	projector := ingest.NewProjector(s, hub)
	classifier := NewClassifier([]string{"30304"})
	backoff := &retry.Backoff{BaseDelay: time.Minute, MaxDelay: time.Minute, Factor: 1.0}
	pub := NewPublisher(s, producer, projector, classifier, backoff, hub)

	notice := &domain.ExternalNotice{
		VarselID:          uuid.New(),
		NotificationID:    uuid.New(),
		Virksomhetsnummer: "912345678",
		ProdusentID:       "test-produsent",
		Channel:           domain.ChannelSMS,
		Address:           "+4799999999",
		Content:           "hei",
		Window:            domain.WindowContinuous,
		State:             domain.StateNew,
		CreatedAt:         time.Now().Add(-time.Minute),
	}
	if _, err := s.CreateNotice(ctx, notice); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToJob(ctx, notice.VarselID); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimJobBatch(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: %v (%d claimed)", err, len(claimed))
	}

	return &fixture{store: s, producer: producer, pub: pub, notice: claimed[0]}
}

func TestSuccessPublishesAndApplies(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	resp := &adapter.Response{Sent: true, Raw: json.RawMessage(`{"transaction":"abc"}`)}
	if err := f.pub.Handle(ctx, f.notice, resp, nil); err != nil {
		t.Fatal(err)
	}

	published := f.producer.published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(published))
	}
	payload, ok := published[0].Payload.(domain.ExternalNoticeSucceeded)
	if !ok {
		t.Fatalf("expected ExternalNoticeSucceeded, got %T", published[0].Payload)
	}
	if payload.VarselID != f.notice.VarselID {
		t.Error("varsel id mismatch in published event")
	}
	if published[0].AggregateID != f.notice.NotificationID {
		t.Error("aggregate id mismatch in published event")
	}

	n, _ := f.store.GetNotice(ctx, f.notice.VarselID)
	if n.State != domain.StateSucceeded {
		t.Errorf("expected SUCCEEDED after apply-back, got %s", n.State)
	}
}

func TestPermanentFailurePublishesFailedEvent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	resp := &adapter.Response{
		Sent:         false,
		ErrorCode:    "30304",
		ErrorMessage: "invalid recipient",
		Raw:          json.RawMessage(`{}`),
	}
	if err := f.pub.Handle(ctx, f.notice, resp, nil); err != nil {
		t.Fatal(err)
	}

	published := f.producer.published()
	if len(published) != 1 {
		t.Fatalf("expected exactly 1 published event, got %d", len(published))
	}
	payload, ok := published[0].Payload.(domain.ExternalNoticeFailed)
	if !ok {
		t.Fatalf("expected ExternalNoticeFailed, got %T", published[0].Payload)
	}
	if payload.ErrorCode != "30304" {
		t.Errorf("error code mismatch: %s", payload.ErrorCode)
	}

	n, _ := f.store.GetNotice(ctx, f.notice.VarselID)
	if n.State != domain.StateFailedPermanent {
		t.Errorf("expected FAILED_PERMANENT, got %s", n.State)
	}

	// no wait-queue re-entry for permanent failures
	wait, job, _ := f.store.QueueDepths(ctx)
	if wait != 0 || job != 0 {
		t.Errorf("permanent failure re-entered a queue: wait=%d job=%d", wait, job)
	}
}

func TestUnclassifiedCodeRetries(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	resp := &adapter.Response{Sent: false, ErrorCode: "99999", ErrorMessage: "who knows"}
	if err := f.pub.Handle(ctx, f.notice, resp, nil); err != nil {
		t.Fatal(err)
	}

	if published := f.producer.published(); len(published) != 0 {
		t.Errorf("retryable failure must not publish terminal events, got %d", len(published))
	}

	n, _ := f.store.GetNotice(ctx, f.notice.VarselID)
	if n.State != domain.StateWaiting {
		t.Errorf("expected WAITING, got %s", n.State)
	}
	if n.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", n.RetryCount)
	}
}

func TestTransportErrorRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	base := time.Date(2020, 1, 1, 1, 1, 0, 0, time.UTC)
	f.pub.WithClock(func() time.Time { return base })

	if err := f.pub.Handle(ctx, f.notice, nil, errors.New("connection refused")); err != nil {
		t.Fatal(err)
	}

	if published := f.producer.published(); len(published) != 0 {
		t.Errorf("transport failure must not publish terminal events, got %d", len(published))
	}

	entries, err := f.store.DueWaitEntries(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 wait entry, got %d", len(entries))
	}
	if want := base.Add(time.Minute); !entries[0].NextEvaluationAt.Equal(want) {
		t.Errorf("next evaluation %v, want %v", entries[0].NextEvaluationAt, want)
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"30304", "30307"})

	if !c.Permanent("30304") {
		t.Error("configured code should be permanent")
	}
	if c.Permanent("12345") {
		t.Error("unconfigured code must default to retryable")
	}
	if c.Permanent("") {
		t.Error("empty code must default to retryable")
	}
}
