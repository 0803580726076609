package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS external_notices (
			varsel_id           UUID PRIMARY KEY,
			notification_id     UUID NOT NULL,
			virksomhetsnummer   TEXT NOT NULL,
			produsent_id        TEXT NOT NULL,
			channel             TEXT NOT NULL,
			address             TEXT NOT NULL,
			recipient_ref       TEXT NOT NULL,
			content             TEXT NOT NULL,
			window_policy       TEXT NOT NULL,
			send_time           TIMESTAMPTZ,
			state               TEXT NOT NULL CHECK (state IN ('NEW', 'WAITING', 'READY', 'SENT_ATTEMPTED', 'SUCCEEDED', 'FAILED_PERMANENT')),
			retry_count         INT NOT NULL DEFAULT 0,
			raw_response        JSONB,
			error_code          TEXT NOT NULL DEFAULT '',
			error_message       TEXT NOT NULL DEFAULT '',
			content_fingerprint TEXT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS wait_queue (
			varsel_id          UUID PRIMARY KEY REFERENCES external_notices(varsel_id) ON DELETE CASCADE,
			next_evaluation_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS job_queue (
			seq       BIGSERIAL PRIMARY KEY,
			varsel_id UUID UNIQUE NOT NULL REFERENCES external_notices(varsel_id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS emergency_brake (
			id              INT PRIMARY KEY CHECK (id = 0),
			stop_processing BOOLEAN NOT NULL
		);

		INSERT INTO emergency_brake (id, stop_processing)
		VALUES (0, false)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS dispatch_stats (
			state       TEXT NOT NULL,
			hour_bucket TIMESTAMPTZ NOT NULL,
			count       BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (state, hour_bucket)
		);

		CREATE INDEX IF NOT EXISTS idx_external_notices_notification_id ON external_notices(notification_id);
		CREATE INDEX IF NOT EXISTS idx_external_notices_state ON external_notices(state);
		CREATE INDEX IF NOT EXISTS idx_wait_queue_next_evaluation_at ON wait_queue(next_evaluation_at);
	`

	_, err := db.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
