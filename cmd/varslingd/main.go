package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/adapter/altinn"
	natsbroker "github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/broker/nats"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/calendar"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/config"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/engine"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/events"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/feedback"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/ingest"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/logging"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/retry"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logging.Init(cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// storage unavailability is fail-closed: no store, no engine
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		os.Exit(1)
	}

	bus, err := natsbroker.New(ctx, cfg.NATSURL)
	if err != nil {
		slog.Error("failed to connect to broker", slog.String("code", "BROKER_ERROR"), slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	noticeStore := postgres.NewNoticeStore(db)
	brakeStore := postgres.NewBrakeStore(db)
	hub := events.NewHub()

	projector := ingest.NewProjector(noticeStore, hub)
	classifier := feedback.NewClassifier(cfg.PermanentErrorCodes)
	backoff := &retry.Backoff{
		BaseDelay: cfg.Retry.BaseDelay.Std(),
		MaxDelay:  cfg.Retry.MaxDelay.Std(),
		Factor:    cfg.Retry.Factor,
		Jitter:    cfg.Retry.Jitter,
	}
	outcomes := feedback.NewPublisher(noticeStore, bus, projector, classifier, backoff, hub)
	client := altinn.New(cfg.Altinn.Endpoint, cfg.Altinn.APIKey, cfg.Altinn.Timeout.Std())

	eng := engine.New(noticeStore, brakeStore, client, outcomes, calendar.Default(), hub, engine.Config{
		IdleSleepDelay:             cfg.IdleSleepDelay.Std(),
		RecheckEmergencyBrakeDelay: cfg.RecheckEmergencyBrakeDelay.Std(),
		JobBatchSize:               cfg.JobBatchSize,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := bus.Consume(ctx, projector.Apply); err != nil && ctx.Err() == nil {
			slog.Error("event consumer stopped", slog.String("code", "BROKER_ERROR"), slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		eng.Start(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
}
