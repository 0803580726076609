// Package memory holds an in-process NoticeStore with the same claim
// semantics as the postgres implementation. It backs the engine and
// projection tests and is usable as a store for local one-off runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

type Store struct {
	mu      sync.Mutex
	notices map[uuid.UUID]*domain.ExternalNotice
	wait    map[uuid.UUID]time.Time
	jobs    []uuid.UUID // FIFO
	stopped bool
	stats   map[domain.State]int64
}

func New() *Store {
	return &Store{
		notices: make(map[uuid.UUID]*domain.ExternalNotice),
		wait:    make(map[uuid.UUID]time.Time),
		stats:   make(map[domain.State]int64),
	}
}

func (s *Store) CreateNotice(_ context.Context, n *domain.ExternalNotice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.notices[n.VarselID]; ok {
		if existing.ContentFingerprint() != n.ContentFingerprint() {
			return false, store.ErrConflict
		}
		return false, nil
	}

	clone := *n
	s.notices[n.VarselID] = &clone
	s.wait[n.VarselID] = n.CreatedAt
	return true, nil
}

func (s *Store) GetNotice(_ context.Context, varselID uuid.UUID) (*domain.ExternalNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notices[varselID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (s *Store) DueWaitEntries(_ context.Context, now time.Time, limit int) ([]store.WaitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []store.WaitEntry
	for id, at := range s.wait {
		if !at.After(now) {
			entries = append(entries, store.WaitEntry{VarselID: id, NextEvaluationAt: at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NextEvaluationAt.Before(entries[j].NextEvaluationAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) PromoteToJob(_ context.Context, varselID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wait[varselID]; !ok {
		return nil
	}
	delete(s.wait, varselID)

	n, ok := s.notices[varselID]
	if !ok || (n.State != domain.StateNew && n.State != domain.StateWaiting) {
		return nil
	}
	n.State = domain.StateReady
	n.UpdatedAt = time.Now()
	s.jobs = append(s.jobs, varselID)
	return nil
}

func (s *Store) RescheduleWait(_ context.Context, varselID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notices[varselID]
	if !ok || (n.State != domain.StateNew && n.State != domain.StateWaiting) {
		return nil
	}
	n.State = domain.StateWaiting
	n.UpdatedAt = time.Now()
	s.wait[varselID] = at
	return nil
}

func (s *Store) ClaimJobBatch(_ context.Context, limit int) ([]*domain.ExternalNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*domain.ExternalNotice
	for len(s.jobs) > 0 && len(claimed) < limit {
		varselID := s.jobs[0]
		s.jobs = s.jobs[1:]

		n, ok := s.notices[varselID]
		if !ok || n.State != domain.StateReady {
			continue
		}
		n.State = domain.StateSentAttempted
		n.UpdatedAt = time.Now()
		clone := *n
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (s *Store) RequeueRetry(_ context.Context, varselID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notices[varselID]
	if !ok || n.State != domain.StateSentAttempted {
		return nil
	}
	n.State = domain.StateWaiting
	n.RetryCount++
	n.UpdatedAt = time.Now()
	s.wait[varselID] = at
	return nil
}

func (s *Store) MarkOutcome(_ context.Context, varselID uuid.UUID, state domain.State, raw []byte, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notices[varselID]
	if !ok || n.State.Terminal() {
		return nil
	}
	n.State = state
	n.RawResponse = raw
	n.ErrorCode = errorCode
	n.ErrorMessage = errorMessage
	n.UpdatedAt = time.Now()

	delete(s.wait, varselID)
	s.dropJob(varselID)
	return nil
}

func (s *Store) DeleteAggregate(_ context.Context, notificationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.notices {
		if n.NotificationID != notificationID {
			continue
		}
		delete(s.notices, id)
		delete(s.wait, id)
		s.dropJob(id)
	}
	return nil
}

func (s *Store) QueueDepths(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wait), len(s.jobs), nil
}

func (s *Store) IncrementStat(_ context.Context, state domain.State, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[state]++
	return nil
}

func (s *Store) Stats(_ context.Context) (map[domain.State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.State]int64, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out, nil
}

func (s *Store) Get(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, nil
}

func (s *Store) Set(_ context.Context, stopped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = stopped
	return nil
}

func (s *Store) dropJob(varselID uuid.UUID) {
	for i, id := range s.jobs {
		if id == varselID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}
