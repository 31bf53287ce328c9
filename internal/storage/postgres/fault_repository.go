package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

type faultRepository struct {
	db *sql.DB
}

// NewFaultRepository создаёт PostgreSQL-реализацию FaultRepository.
func NewFaultRepository(store *Store) domain.FaultRepository {
	return &faultRepository{db: store.DB()}
}

// Save пишет fault запись один раз.
func (r *faultRepository) Save(ctx context.Context, record domain.FaultRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exceptions, err := json.Marshal(record.Exceptions)
	if err != nil {
		return fmt.Errorf("marshal fault exceptions: %w", err)
	}
	if record.Exceptions == nil {
		exceptions = []byte("[]")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO faults (
			id, message_type, queue, order_id, correlation_id, payload, exceptions, attempts, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		record.ID, record.MessageType, record.Queue, record.OrderID, record.CorrelationID,
		record.Payload, string(exceptions), record.Attempts, record.OccurredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrFaultAlreadyExists
		}
		return dbError("insert fault record", err)
	}
	return nil
}

func (r *faultRepository) Get(ctx context.Context, id string) (domain.FaultRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanFault(r.db.QueryRowContext(ctx, selectFaultColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FaultRecord{}, domain.ErrFaultNotFound
		}
		return domain.FaultRecord{}, dbError("select fault record", err)
	}
	return record, nil
}

func (r *faultRepository) List(ctx context.Context, limit int) ([]domain.FaultRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, selectFaultColumns+`
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, dbError("list fault records", err)
	}
	defer rows.Close()

	result := make([]domain.FaultRecord, 0)
	for rows.Next() {
		record, err := scanFault(rows)
		if err != nil {
			return nil, dbError("scan fault record", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate fault records", err)
	}
	return result, nil
}

const selectFaultColumns = `
	SELECT id, message_type, queue, order_id, correlation_id, payload, exceptions, attempts, occurred_at
	FROM faults`

func scanFault(row rowScanner) (domain.FaultRecord, error) {
	var (
		record     domain.FaultRecord
		exceptions []byte
	)
	if err := row.Scan(
		&record.ID, &record.MessageType, &record.Queue, &record.OrderID, &record.CorrelationID,
		&record.Payload, &exceptions, &record.Attempts, &record.OccurredAt,
	); err != nil {
		return domain.FaultRecord{}, err
	}
	if len(exceptions) > 0 {
		if err := json.Unmarshal(exceptions, &record.Exceptions); err != nil {
			return domain.FaultRecord{}, fmt.Errorf("unmarshal fault exceptions: %w", err)
		}
	}
	return record, nil
}

var _ domain.FaultRepository = (*faultRepository)(nil)
