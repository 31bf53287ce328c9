package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

func TestOutboxRepository_PullPendingFiltersByCeiling(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM outbox\s+WHERE processed_at IS NULL\s+AND retry_count < \$1\s+ORDER BY created_at, id\s+LIMIT \$2`).
		WithArgs(3, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_type", "aggregate_id", "correlation_id", "priority", "payload", "created_at", "retry_count"}).
			AddRow("rec-1", "OrderCreated", "order-1", "corr-1", int64(9), []byte(`{"orderId":"order-1"}`), now, int64(1)))

	records, err := repo.PullPending(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint8(9), records[0].Priority)
	require.Equal(t, 1, records[0].RetryCount)
	require.JSONEq(t, `{"orderId":"order-1"}`, string(records[0].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkAndIncrement(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE outbox\s+SET processed_at = \$2`).
		WithArgs("rec-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox\s+SET processed_at = \$2`).
		WithArgs("missing", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SET retry_count = retry_count \+ 1`).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(int64(2)))
	mock.ExpectQuery(`SET retry_count = retry_count \+ 1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}))

	require.NoError(t, repo.MarkProcessed(context.Background(), "rec-1", now))
	require.ErrorIs(t, repo.MarkProcessed(context.Background(), "missing", now), domain.ErrOutboxRecordNotFound)

	count, err := repo.IncrementRetry(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = repo.IncrementRetry(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOutboxRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Stats(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	oldest := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "stuck", "oldest"}).AddRow(int64(4), int64(1), oldest))

	stats, err := repo.Stats(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxStats{PendingCount: 4, StuckCount: 1, OldestPendingAt: oldest}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFaultRepository_SaveAndGet(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewFaultRepository(store)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO faults`).
		WithArgs("fault-1", "OrderPicked", "erp-order-picked", "order-1", "corr-1", []byte(`{}`),
			`[{"Type":"*errors.errorString","Message":"boom"}]`, 3, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM faults WHERE id = \$1`).
		WithArgs("fault-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_type", "queue", "order_id", "correlation_id", "payload", "exceptions", "attempts", "occurred_at"}).
			AddRow("fault-1", "OrderPicked", "erp-order-picked", "order-1", "corr-1", []byte(`{}`),
				[]byte(`[{"Type":"*errors.errorString","Message":"boom"}]`), int64(3), now))
	mock.ExpectQuery(`FROM faults WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record := domain.FaultRecord{
		ID:            "fault-1",
		MessageType:   "OrderPicked",
		Queue:         "erp-order-picked",
		OrderID:       "order-1",
		CorrelationID: "corr-1",
		Payload:       []byte(`{}`),
		Exceptions:    []domain.ExceptionInfo{{Type: "*errors.errorString", Message: "boom"}},
		Attempts:      3,
		OccurredAt:    now,
	}
	require.NoError(t, repo.Save(context.Background(), record))

	got, err := repo.Get(context.Background(), "fault-1")
	require.NoError(t, err)
	require.Equal(t, record, got)

	_, err = repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrFaultNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
