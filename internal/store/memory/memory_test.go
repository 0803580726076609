package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

func testNotice(varselID uuid.UUID) *domain.ExternalNotice {
	return &domain.ExternalNotice{
		VarselID:       varselID,
		NotificationID: uuid.New(),
		Channel:        domain.ChannelSMS,
		Address:        "+4799999999",
		Content:        "hei",
		Window:         domain.WindowContinuous,
		State:          domain.StateNew,
		CreatedAt:      time.Now().Add(-time.Minute),
		UpdatedAt:      time.Now().Add(-time.Minute),
	}
}

func TestCreateNoticeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	created, err := s.CreateNotice(ctx, n)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	created, err = s.CreateNotice(ctx, n)
	if err != nil {
		t.Fatalf("redelivered create should not error: %v", err)
	}
	if created {
		t.Error("redelivered create should report not-created")
	}

	wait, _, _ := s.QueueDepths(ctx)
	if wait != 1 {
		t.Errorf("expected single wait entry, got %d", wait)
	}
}

func TestCreateNoticeConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	if _, err := s.CreateNotice(ctx, n); err != nil {
		t.Fatal(err)
	}

	divergent := *n
	divergent.Content = "noe helt annet"
	_, err := s.CreateNotice(ctx, &divergent)
	if err != store.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// original row untouched
	got, err := s.GetNotice(ctx, n.VarselID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hei" {
		t.Errorf("original content overwritten: %q", got.Content)
	}
}

func TestPromoteAndClaimFIFO(t *testing.T) {
	ctx := context.Background()
	s := New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n := testNotice(uuid.New())
		if _, err := s.CreateNotice(ctx, n); err != nil {
			t.Fatal(err)
		}
		if err := s.PromoteToJob(ctx, n.VarselID); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.VarselID)
	}

	claimed, err := s.ClaimJobBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed, got %d", len(claimed))
	}
	for i, n := range claimed {
		if n.VarselID != ids[i] {
			t.Errorf("claim order broken at %d: %s != %s", i, n.VarselID, ids[i])
		}
		if n.State != domain.StateSentAttempted {
			t.Errorf("claimed notice not SENT_ATTEMPTED: %s", n.State)
		}
	}
}

func TestConcurrentClaimYieldsSingleAttempt(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	if _, err := s.CreateNotice(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToJob(ctx, n.VarselID); err != nil {
		t.Fatal(err)
	}

	const instances = 8
	var wg sync.WaitGroup
	results := make(chan int, instances)
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimJobBatch(ctx, 10)
			if err != nil {
				t.Error(err)
				return
			}
			results <- len(claimed)
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("expected exactly one claim across instances, got %d", total)
	}
}

func TestVarselNeverInBothQueues(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	if _, err := s.CreateNotice(ctx, n); err != nil {
		t.Fatal(err)
	}

	if err := s.PromoteToJob(ctx, n.VarselID); err != nil {
		t.Fatal(err)
	}
	wait, job, _ := s.QueueDepths(ctx)
	if wait != 0 || job != 1 {
		t.Errorf("after promote: wait=%d job=%d, want 0/1", wait, job)
	}

	// reschedule does not apply to a READY notice sitting in the job queue
	if err := s.RescheduleWait(ctx, n.VarselID, time.Now()); err != nil {
		t.Fatal(err)
	}
	wait, job, _ = s.QueueDepths(ctx)
	if wait != 0 || job != 1 {
		t.Errorf("after bogus reschedule: wait=%d job=%d, want 0/1", wait, job)
	}
}

func TestTerminalNoticeNeverReenters(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	if _, err := s.CreateNotice(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToJob(ctx, n.VarselID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJobBatch(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkOutcome(ctx, n.VarselID, domain.StateSucceeded, nil, "", ""); err != nil {
		t.Fatal(err)
	}

	if err := s.RequeueRetry(ctx, n.VarselID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.RescheduleWait(ctx, n.VarselID, time.Now()); err != nil {
		t.Fatal(err)
	}

	wait, job, _ := s.QueueDepths(ctx)
	if wait != 0 || job != 0 {
		t.Errorf("terminal notice re-entered a queue: wait=%d job=%d", wait, job)
	}

	got, _ := s.GetNotice(ctx, n.VarselID)
	if got.State != domain.StateSucceeded {
		t.Errorf("terminal state changed: %s", got.State)
	}
}

func TestMarkOutcomeUnknownNoticeIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.MarkOutcome(ctx, uuid.New(), domain.StateSucceeded, nil, "", ""); err != nil {
		t.Fatalf("outcome for unknown notice should be silent: %v", err)
	}
}

func TestDeleteAggregateDropsQueuedWork(t *testing.T) {
	ctx := context.Background()
	s := New()

	notificationID := uuid.New()
	a := testNotice(uuid.New())
	a.NotificationID = notificationID
	b := testNotice(uuid.New())
	b.NotificationID = notificationID

	if _, err := s.CreateNotice(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateNotice(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToJob(ctx, b.VarselID); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAggregate(ctx, notificationID); err != nil {
		t.Fatal(err)
	}

	wait, job, _ := s.QueueDepths(ctx)
	if wait != 0 || job != 0 {
		t.Errorf("queues not scrubbed: wait=%d job=%d", wait, job)
	}
	if _, err := s.GetNotice(ctx, a.VarselID); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueRetryBumpsCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := testNotice(uuid.New())

	if _, err := s.CreateNotice(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToJob(ctx, n.VarselID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJobBatch(ctx, 1); err != nil {
		t.Fatal(err)
	}

	at := time.Now().Add(30 * time.Second)
	if err := s.RequeueRetry(ctx, n.VarselID, at); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetNotice(ctx, n.VarselID)
	if got.State != domain.StateWaiting {
		t.Errorf("expected WAITING, got %s", got.State)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
}
