package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store"
)

type NoticeStore struct {
	db *DB
}

func NewNoticeStore(db *DB) *NoticeStore {
	return &NoticeStore{db: db}
}

const noticeColumns = `
	varsel_id, notification_id, virksomhetsnummer, produsent_id, channel,
	address, recipient_ref, content, window_policy, send_time, state,
	retry_count, raw_response, error_code, error_message, created_at, updated_at
`

func scanNotice(row pgx.Row) (*domain.ExternalNotice, error) {
	var n domain.ExternalNotice
	err := row.Scan(
		&n.VarselID,
		&n.NotificationID,
		&n.Virksomhetsnummer,
		&n.ProdusentID,
		&n.Channel,
		&n.Address,
		&n.RecipientRef,
		&n.Content,
		&n.Window,
		&n.SendTime,
		&n.State,
		&n.RetryCount,
		&n.RawResponse,
		&n.ErrorCode,
		&n.ErrorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NoticeStore) CreateNotice(ctx context.Context, n *domain.ExternalNotice) (bool, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin create notice: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO external_notices (`+noticeColumns+`, content_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (varsel_id) DO NOTHING
	`,
		n.VarselID, n.NotificationID, n.Virksomhetsnummer, n.ProdusentID, n.Channel,
		n.Address, n.RecipientRef, n.Content, n.Window, n.SendTime, n.State,
		n.RetryCount, n.RawResponse, n.ErrorCode, n.ErrorMessage, n.CreatedAt, n.UpdatedAt,
		n.ContentFingerprint(),
	)
	if err != nil {
		return false, fmt.Errorf("insert notice: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var existing string
		err := tx.QueryRow(ctx, `
			SELECT content_fingerprint FROM external_notices WHERE varsel_id = $1
		`, n.VarselID).Scan(&existing)
		if err != nil {
			return false, fmt.Errorf("read existing fingerprint: %w", err)
		}
		if existing != n.ContentFingerprint() {
			return false, store.ErrConflict
		}
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wait_queue (varsel_id, next_evaluation_at)
		VALUES ($1, $2)
		ON CONFLICT (varsel_id) DO NOTHING
	`, n.VarselID, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert wait entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit create notice: %w", err)
	}
	return true, nil
}

func (s *NoticeStore) GetNotice(ctx context.Context, varselID uuid.UUID) (*domain.ExternalNotice, error) {
	n, err := scanNotice(s.db.Pool.QueryRow(ctx, `
		SELECT `+noticeColumns+` FROM external_notices WHERE varsel_id = $1
	`, varselID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notice: %w", err)
	}
	return n, nil
}

func (s *NoticeStore) DueWaitEntries(ctx context.Context, now time.Time, limit int) ([]store.WaitEntry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT varsel_id, next_evaluation_at
		FROM wait_queue
		WHERE next_evaluation_at <= $1
		ORDER BY next_evaluation_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due wait entries: %w", err)
	}
	defer rows.Close()

	var entries []store.WaitEntry
	for rows.Next() {
		var e store.WaitEntry
		if err := rows.Scan(&e.VarselID, &e.NextEvaluationAt); err != nil {
			return nil, fmt.Errorf("scan wait entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *NoticeStore) PromoteToJob(ctx context.Context, varselID uuid.UUID) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM wait_queue WHERE varsel_id = $1`, varselID)
	if err != nil {
		return fmt.Errorf("remove wait entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE external_notices
		SET state = $1, updated_at = $2
		WHERE varsel_id = $3 AND state IN ($4, $5)
	`, domain.StateReady, time.Now(), varselID, domain.StateNew, domain.StateWaiting)
	if err != nil {
		return fmt.Errorf("mark notice ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// terminal or already claimed; the wait entry is gone either way
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_queue (varsel_id) VALUES ($1)
		ON CONFLICT (varsel_id) DO NOTHING
	`, varselID)
	if err != nil {
		return fmt.Errorf("insert job entry: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *NoticeStore) RescheduleWait(ctx context.Context, varselID uuid.UUID, at time.Time) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE external_notices
		SET state = $1, updated_at = $2
		WHERE varsel_id = $3 AND state IN ($4, $5)
	`, domain.StateWaiting, time.Now(), varselID, domain.StateNew, domain.StateWaiting)
	if err != nil {
		return fmt.Errorf("mark notice waiting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wait_queue (varsel_id, next_evaluation_at)
		VALUES ($1, $2)
		ON CONFLICT (varsel_id) DO UPDATE SET next_evaluation_at = EXCLUDED.next_evaluation_at
	`, varselID, at)
	if err != nil {
		return fmt.Errorf("upsert wait entry: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *NoticeStore) ClaimJobBatch(ctx context.Context, limit int) ([]*domain.ExternalNotice, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim batch: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT seq, varsel_id FROM job_queue
		ORDER BY seq ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job batch: %w", err)
	}

	type jobEntry struct {
		seq      int64
		varselID uuid.UUID
	}
	var picked []jobEntry
	for rows.Next() {
		var e jobEntry
		if err := rows.Scan(&e.seq, &e.varselID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job entry: %w", err)
		}
		picked = append(picked, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job batch: %w", err)
	}

	var claimed []*domain.ExternalNotice
	for _, e := range picked {
		n, err := scanNotice(tx.QueryRow(ctx, `
			UPDATE external_notices
			SET state = $1, updated_at = $2
			WHERE varsel_id = $3 AND state = $4
			RETURNING `+noticeColumns+`
		`, domain.StateSentAttempted, time.Now(), e.varselID, domain.StateReady))
		if errors.Is(err, pgx.ErrNoRows) {
			// claimed by a concurrent instance, or gone terminal; drop the entry
			if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE seq = $1`, e.seq); err != nil {
				return nil, fmt.Errorf("drop stale job entry: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim notice: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE seq = $1`, e.seq); err != nil {
			return nil, fmt.Errorf("remove job entry: %w", err)
		}
		claimed = append(claimed, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim batch: %w", err)
	}
	return claimed, nil
}

func (s *NoticeStore) RequeueRetry(ctx context.Context, varselID uuid.UUID, at time.Time) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin requeue: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE external_notices
		SET state = $1, retry_count = retry_count + 1, updated_at = $2
		WHERE varsel_id = $3 AND state = $4
	`, domain.StateWaiting, time.Now(), varselID, domain.StateSentAttempted)
	if err != nil {
		return fmt.Errorf("mark notice retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wait_queue (varsel_id, next_evaluation_at)
		VALUES ($1, $2)
		ON CONFLICT (varsel_id) DO UPDATE SET next_evaluation_at = EXCLUDED.next_evaluation_at
	`, varselID, at)
	if err != nil {
		return fmt.Errorf("upsert wait entry: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *NoticeStore) MarkOutcome(ctx context.Context, varselID uuid.UUID, state domain.State, raw []byte, errorCode, errorMessage string) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark outcome: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE external_notices
		SET state = $1, raw_response = $2, error_code = $3, error_message = $4, updated_at = $5
		WHERE varsel_id = $6 AND state NOT IN ($7, $8)
	`, state, raw, errorCode, errorMessage, time.Now(), varselID,
		domain.StateSucceeded, domain.StateFailedPermanent)
	if err != nil {
		return fmt.Errorf("mark outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// unknown notice (deleted) or already terminal: redelivery no-op
		return tx.Commit(ctx)
	}

	// terminal notices never sit on a queue
	if _, err := tx.Exec(ctx, `DELETE FROM wait_queue WHERE varsel_id = $1`, varselID); err != nil {
		return fmt.Errorf("scrub wait entry: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE varsel_id = $1`, varselID); err != nil {
		return fmt.Errorf("scrub job entry: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *NoticeStore) DeleteAggregate(ctx context.Context, notificationID uuid.UUID) error {
	_, err := s.db.Pool.Exec(ctx, `
		DELETE FROM external_notices WHERE notification_id = $1
	`, notificationID)
	if err != nil {
		return fmt.Errorf("delete aggregate: %w", err)
	}
	return nil
}

func (s *NoticeStore) QueueDepths(ctx context.Context) (int, int, error) {
	var wait, job int
	err := s.db.Pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM wait_queue), (SELECT COUNT(*) FROM job_queue)
	`).Scan(&wait, &job)
	if err != nil {
		return 0, 0, fmt.Errorf("query queue depths: %w", err)
	}
	return wait, job, nil
}

func (s *NoticeStore) IncrementStat(ctx context.Context, state domain.State, at time.Time) error {
	hourBucket := at.Truncate(time.Hour)

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO dispatch_stats (state, hour_bucket, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (state, hour_bucket)
		DO UPDATE SET count = dispatch_stats.count + 1
	`, state, hourBucket)
	if err != nil {
		return fmt.Errorf("increment dispatch stats: %w", err)
	}
	return nil
}

func (s *NoticeStore) Stats(ctx context.Context) (map[domain.State]int64, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT state, SUM(count) FROM dispatch_stats GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("query dispatch stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.State]int64)
	for rows.Next() {
		var state domain.State
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		stats[state] = count
	}
	return stats, rows.Err()
}
