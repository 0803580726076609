package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

var (
	// ErrConflict: a creation event carried a varsel id that already exists
	// with different content. The original row must stay untouched.
	ErrConflict = errors.New("store: notice exists with divergent content")

	ErrNotFound = errors.New("store: notice not found")
)

// WaitEntry is one wait-queue row: re-evaluate the notice at or after
// NextEvaluationAt. A varsel id lives in at most one of the two queues.
type WaitEntry struct {
	VarselID         uuid.UUID
	NextEvaluationAt time.Time
}

// NoticeStore is the durable projection plus the two scheduling queues.
// Every mutation is single-row claim-then-act, which is what makes multiple
// concurrent engine instances safe.
type NoticeStore interface {
	// CreateNotice inserts the row and its initial wait-queue entry.
	// Redelivery with identical content returns (false, nil); divergent
	// content returns ErrConflict.
	CreateNotice(ctx context.Context, n *domain.ExternalNotice) (created bool, err error)

	GetNotice(ctx context.Context, varselID uuid.UUID) (*domain.ExternalNotice, error)

	// DueWaitEntries returns wait entries with NextEvaluationAt <= now,
	// oldest first.
	DueWaitEntries(ctx context.Context, now time.Time, limit int) ([]WaitEntry, error)

	// PromoteToJob moves the notice from the wait queue to the job queue and
	// flips it to READY. No-op when the notice is terminal or not waiting.
	PromoteToJob(ctx context.Context, varselID uuid.UUID) error

	// RescheduleWait keeps the notice on the wait queue with a new
	// evaluation time and flips it to WAITING.
	RescheduleWait(ctx context.Context, varselID uuid.UUID, at time.Time) error

	// ClaimJobBatch pops up to limit entries FIFO from the job queue,
	// atomically flipping each claimed notice READY -> SENT_ATTEMPTED. A
	// row already claimed by a concurrent instance is skipped, never
	// returned twice.
	ClaimJobBatch(ctx context.Context, limit int) ([]*domain.ExternalNotice, error)

	// RequeueRetry puts a SENT_ATTEMPTED notice back on the wait queue with
	// a backoff-computed evaluation time and bumps its retry count.
	RequeueRetry(ctx context.Context, varselID uuid.UUID, at time.Time) error

	// MarkOutcome transitions SENT_ATTEMPTED to the terminal state carrying
	// the provider response. Unknown varsel ids and already-terminal rows
	// are silent no-ops (outcome redelivery, deleted aggregates).
	MarkOutcome(ctx context.Context, varselID uuid.UUID, state domain.State, raw []byte, errorCode, errorMessage string) error

	// DeleteAggregate removes every notice and queue entry belonging to the
	// notification, without dispatch.
	DeleteAggregate(ctx context.Context, notificationID uuid.UUID) error

	// QueueDepths reports (waitQueue, jobQueue) sizes.
	QueueDepths(ctx context.Context) (wait int, job int, err error)

	// IncrementStat bumps the hour-bucketed counter for a terminal outcome.
	IncrementStat(ctx context.Context, state domain.State, at time.Time) error

	// Stats returns total terminal outcomes per state.
	Stats(ctx context.Context) (map[domain.State]int64, error)
}

// BrakeStore reads and writes the single-row emergency brake. The engine
// only ever calls Get; Set belongs to the ops tooling.
type BrakeStore interface {
	Get(ctx context.Context) (stopped bool, err error)
	Set(ctx context.Context, stopped bool) error
}
