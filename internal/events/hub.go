// Package events carries in-process lifecycle transition broadcasts. The
// hub is observation only: a dropped transition never affects dispatch, and
// subscribers with full buffers are skipped.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

type Transition struct {
	VarselID       uuid.UUID
	NotificationID uuid.UUID
	From           domain.State
	To             domain.State
	At             time.Time
}

type Subscriber struct {
	ID       string
	VarselID uuid.UUID // filter; uuid.Nil = all
	Events   chan Transition
}

type Hub struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
	}
}

func (h *Hub) Subscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub.ID] = sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Events)
		delete(h.subscribers, id)
	}
}

func (h *Hub) Publish(tr Transition) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.VarselID != uuid.Nil && sub.VarselID != tr.VarselID {
			continue
		}
		select {
		case sub.Events <- tr:
		default:
			// Non-blocking: skip if subscriber buffer is full
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
