package events

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

func transition(varselID uuid.UUID) Transition {
	return Transition{
		VarselID:       varselID,
		NotificationID: uuid.New(),
		From:           domain.StateNew,
		To:             domain.StateReady,
		At:             time.Now(),
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	sub := &Subscriber{ID: "s1", Events: make(chan Transition, 1)}
	hub.Subscribe(sub)

	tr := transition(uuid.New())
	hub.Publish(tr)

	select {
	case got := <-sub.Events:
		if got.VarselID != tr.VarselID || got.To != tr.To {
			t.Errorf("got %+v, want %+v", got, tr)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for transition")
	}
}

func TestVarselFilter(t *testing.T) {
	hub := NewHub()
	mine := uuid.New()
	sub := &Subscriber{ID: "s1", VarselID: mine, Events: make(chan Transition, 2)}
	hub.Subscribe(sub)

	hub.Publish(transition(uuid.New()))
	hub.Publish(transition(mine))

	select {
	case got := <-sub.Events:
		if got.VarselID != mine {
			t.Errorf("filter leaked transition for %s", got.VarselID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for filtered transition")
	}

	select {
	case got := <-sub.Events:
		t.Errorf("unexpected second transition: %+v", got)
	default:
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	sub := &Subscriber{ID: "s1", Events: make(chan Transition)} // unbuffered, nobody reading
	hub.Subscribe(sub)

	done := make(chan struct{})
	go func() {
		hub.Publish(transition(uuid.New()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := &Subscriber{ID: "s1", Events: make(chan Transition, 1)}
	hub.Subscribe(sub)

	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Unsubscribe("s1")
	if hub.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	if _, open := <-sub.Events; open {
		t.Error("channel still open after unsubscribe")
	}

	// unknown id is a no-op
	hub.Unsubscribe("s1")
}
