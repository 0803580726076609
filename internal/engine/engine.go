// Package engine runs the two scheduling loops: promotion (wait queue ->
// job queue) and dispatch (job queue -> adapter). Both are cooperative,
// check cancellation at iteration boundaries, and never share in-process
// state beyond the durable store, so several instances can run at once.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/adapter"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/events"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/feedback"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/logging"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

type Config struct {
	IdleSleepDelay             time.Duration
	RecheckEmergencyBrakeDelay time.Duration
	JobBatchSize               int
	PromotionScanLimit         int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.IdleSleepDelay <= 0 {
		out.IdleSleepDelay = 10 * time.Second
	}
	if out.RecheckEmergencyBrakeDelay <= 0 {
		out.RecheckEmergencyBrakeDelay = time.Minute
	}
	if out.JobBatchSize <= 0 {
		out.JobBatchSize = 50
	}
	if out.PromotionScanLimit <= 0 {
		out.PromotionScanLimit = 200
	}
	return out
}

type Engine struct {
	store    store.NoticeStore
	brake    store.BrakeStore
	client   adapter.Client
	outcomes *feedback.Publisher
	cal      domain.Calendar
	hub      *events.Hub
	cfg      Config
	now      func() time.Time
	wake     chan struct{}
}

func New(
	noticeStore store.NoticeStore,
	brake store.BrakeStore,
	client adapter.Client,
	outcomes *feedback.Publisher,
	cal domain.Calendar,
	hub *events.Hub,
	cfg Config,
) *Engine {
	return &Engine{
		store:    noticeStore,
		brake:    brake,
		client:   client,
		outcomes: outcomes,
		cal:      cal,
		hub:      hub,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// WithClock overrides the time source used for eligibility decisions.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Start runs both loops until ctx is cancelled. An in-flight adapter call
// is allowed to finish; only new pickups stop.
func (e *Engine) Start(ctx context.Context) {
	// a freshly registered notice wakes the promotion loop so short
	// SPECIFIED windows are not missed behind an idle sleep
	subID := "engine-promotion-" + uuid.NewString()
	sub := &events.Subscriber{ID: subID, Events: make(chan events.Transition, 64)}
	e.hub.Subscribe(sub)
	defer e.hub.Unsubscribe(subID)

	slog.Info("dispatch engine started",
		slog.String("code", "SYS_STARTUP"),
		slog.Duration("idleSleepDelay", e.cfg.IdleSleepDelay),
		slog.Duration("recheckEmergencyBrakeDelay", e.cfg.RecheckEmergencyBrakeDelay),
		slog.Int("jobBatchSize", e.cfg.JobBatchSize),
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.promotionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.dispatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.watchRegistrations(ctx, sub)
	}()
	wg.Wait()

	slog.Info("dispatch engine shut down", slog.String("code", "SYS_SHUTDOWN"))
}

func (e *Engine) watchRegistrations(ctx context.Context, sub *events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-sub.Events:
			if !ok {
				return
			}
			if tr.To == domain.StateNew {
				e.Wake()
			}
		}
	}
}

// Wake nudges the promotion loop out of its idle sleep.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) promotionLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		promoted, err := e.promoteDue(ctx)
		if err != nil {
			slog.Error("promotion scan failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
			if !e.sleepOrWake(ctx, e.cfg.IdleSleepDelay) {
				return
			}
			continue
		}
		if promoted == 0 {
			if !e.sleepOrWake(ctx, e.cfg.IdleSleepDelay) {
				return
			}
		}
	}
}

// promoteDue re-evaluates every due wait entry once. Eligible notices move
// to the job queue; the rest get their next evaluation time from the window
// policy.
func (e *Engine) promoteDue(ctx context.Context) (int, error) {
	now := e.now()
	entries, err := e.store.DueWaitEntries(ctx, now, e.cfg.PromotionScanLimit)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return promoted, nil
		}

		notice, err := e.store.GetNotice(ctx, entry.VarselID)
		if errors.Is(err, store.ErrNotFound) {
			// deleted between scan and load; the queue entry went with it
			continue
		}
		if err != nil {
			return promoted, err
		}
		if notice.State.Terminal() {
			continue
		}

		effective := domain.EffectiveSendTime(notice.Window, notice.SendTime, now, e.cal)
		if effective.After(now) {
			if err := e.store.RescheduleWait(ctx, notice.VarselID, effective); err != nil {
				return promoted, err
			}
			e.hub.Publish(events.Transition{
				VarselID:       notice.VarselID,
				NotificationID: notice.NotificationID,
				From:           notice.State,
				To:             domain.StateWaiting,
				At:             now,
			})
			continue
		}

		if err := e.store.PromoteToJob(ctx, notice.VarselID); err != nil {
			return promoted, err
		}
		e.hub.Publish(events.Transition{
			VarselID:       notice.VarselID,
			NotificationID: notice.NotificationID,
			From:           notice.State,
			To:             domain.StateReady,
			At:             now,
		})
		promoted++
	}
	return promoted, nil
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		stopped, err := e.brake.Get(ctx)
		if err != nil {
			slog.Error("emergency brake unreadable, not dispatching",
				slog.String("code", "DB_ERROR"), slog.Any("error", err))
			if !e.sleep(ctx, e.cfg.RecheckEmergencyBrakeDelay) {
				return
			}
			continue
		}
		if stopped {
			slog.Info("emergency brake engaged, dispatch paused", slog.String("code", "BRAKE_ON"))
			if !e.sleep(ctx, e.cfg.RecheckEmergencyBrakeDelay) {
				return
			}
			continue
		}

		batch, err := e.store.ClaimJobBatch(ctx, e.cfg.JobBatchSize)
		if err != nil {
			slog.Error("job claim failed", slog.String("code", "DB_ERROR"), slog.Any("error", err))
			if !e.sleep(ctx, e.cfg.IdleSleepDelay) {
				return
			}
			continue
		}
		if len(batch) == 0 {
			if !e.sleep(ctx, e.cfg.IdleSleepDelay) {
				return
			}
			continue
		}

		for _, notice := range batch {
			e.dispatch(ctx, notice)
		}
	}
}

// dispatch performs one adapter call for a claimed notice. The claim
// already flipped it to SENT_ATTEMPTED, so a concurrent instance cannot
// also send it.
func (e *Engine) dispatch(ctx context.Context, notice *domain.ExternalNotice) {
	e.hub.Publish(events.Transition{
		VarselID:       notice.VarselID,
		NotificationID: notice.NotificationID,
		From:           domain.StateReady,
		To:             domain.StateSentAttempted,
		At:             e.now(),
	})

	sendCtx := logging.WithVarselID(ctx, notice.VarselID.String())
	logging.FromContext(sendCtx).Info("dispatching external notice",
		slog.String("code", "DISPATCH_ATTEMPT"),
		slog.String("channel", string(notice.Channel)),
		slog.Int("attempt", notice.RetryCount+1),
	)

	// cancellation stops new pickups, never an in-flight send
	resp, err := e.client.Send(context.WithoutCancel(sendCtx), notice)

	if handleErr := e.outcomes.Handle(context.WithoutCancel(sendCtx), notice, resp, err); handleErr != nil {
		logging.FromContext(sendCtx).Error("failed to record dispatch outcome",
			slog.String("code", "OUTCOME_ERROR"),
			slog.Any("error", handleErr),
		)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) sleepOrWake(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}
