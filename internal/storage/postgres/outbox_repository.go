package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, record domain.OutboxRecord) (domain.OutboxRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertOutbox(ctx, r.db, record)
}

func (r *outboxRepository) PullPending(ctx context.Context, limit, maxRetries int) ([]domain.OutboxRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_type, aggregate_id, correlation_id, priority, payload, created_at, retry_count
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at, id
		LIMIT $2
	`, maxRetries, limit)
	if err != nil {
		return nil, dbError("pull pending outbox records", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			rec      domain.OutboxRecord
			priority int16
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.MessageType,
			&rec.AggregateID,
			&rec.CorrelationID,
			&priority,
			&rec.Payload,
			&rec.CreatedAt,
			&rec.RetryCount,
		); err != nil {
			return nil, dbError("scan outbox record", err)
		}
		rec.Priority = uint8(priority)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate outbox rows", err)
	}

	return result, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET processed_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return dbError("mark outbox record processed", err)
	}
	return requireAffected(res, domain.ErrOutboxRecordNotFound)
}

func (r *outboxRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1
		WHERE id = $1
		RETURNING retry_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrOutboxRecordNotFound
		}
		return 0, dbError("increment outbox retry", err)
	}
	return count, nil
}

func (r *outboxRepository) Stats(ctx context.Context, maxRetries int) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < $1),
			COUNT(*) FILTER (WHERE retry_count >= $1),
			MIN(created_at) FILTER (WHERE retry_count < $1)
		FROM outbox
		WHERE processed_at IS NULL
	`, maxRetries).Scan(&stats.PendingCount, &stats.StuckCount, &oldest); err != nil {
		return domain.OutboxStats{}, dbError("outbox stats query", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
