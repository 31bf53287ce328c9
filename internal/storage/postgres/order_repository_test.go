package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreFromDB(db), mock
}

var orderColumns = []string{
	"id", "order_no", "correlation_id", "state", "order_type", "total_amount",
	"customer_id", "customer_first_name", "customer_last_name", "customer_email", "customer_type",
	"ship_street", "ship_city", "ship_postal_code", "ship_state", "ship_country",
	"payment_method", "payment_status", "payment_transaction_id", "payment_currency",
	"payment_amount", "payment_paid_at",
	"version", "created_at", "updated_at",
}

func TestOrderRepository_GetLoadsItems(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).AddRow(
			"order-1", int64(1000), "corr-1", "StockReserved", "Priority", "30.00",
			"c-1", "Ada", "Lovelace", "ada@example.com", "Regular",
			"1 Main St", "Copenhagen", "1000", "", "DK",
			"card", "Paid", "tx-1", "DKK",
			"30.00", now,
			int64(2), now, now,
		))
	mock.ExpectQuery(`FROM order_items`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"sku", "product_name", "quantity", "unit_price", "line_total", "status"}).
			AddRow("SKU-1", "Mug", int64(2), "10.00", "20.00", "Available").
			AddRow("SKU-2", "Plate", int64(1), "10.00", "10.00", "Available"))

	order, err := repo.Get(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), order.OrderNo)
	require.Equal(t, domain.OrderStateStockReserved, order.State)
	require.Equal(t, domain.OrderTypePriority, order.OrderType)
	require.Equal(t, "DK", order.ShippingAddress.Country)
	require.NotNil(t, order.Payment.PaidAt)
	require.Len(t, order.Items, 2)
	require.Equal(t, domain.ItemStatusAvailable, order.Items[1].Status)
	require.Equal(t, "30", order.TotalAmount.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectQuery(`FROM orders WHERE order_no = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err := repo.GetByOrderNo(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveIncrementsVersion(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	order := sampleOrder("order-1", time.Now().UTC())
	order.Version = 1
	order.State = domain.OrderStateStockReserved

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).
		WithArgs("StockReserved", sqlmock.AnyArg(), "order-1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE order_items`).WithArgs(sqlmock.AnyArg(), "order-1", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE order_items`).WithArgs(sqlmock.AnyArg(), "order-1", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, err := repo.Save(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, int64(2), saved.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveDetectsConflictAndMissing(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder("order-1", time.Now().UTC())
	order.Version = 3

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("order-1"))
	mock.ExpectRollback()

	_, err := repo.Save(context.Background(), order)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err = repo.Save(context.Background(), order)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveDatabaseErrorIsTransient(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.Save(context.Background(), sampleOrder("order-1", time.Now().UTC()))
	require.Error(t, err)
	require.True(t, domain.IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_CreatesOrderAndOutboxAtomically(t *testing.T) {
	store, mock := newMockStore(t)
	tx := NewTransactor(store)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(orderNoLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(order_no\), 0\) FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(1041)))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var (
		orderNo int64
		record  domain.OutboxRecord
	)
	err := tx.InTx(context.Background(), func(ctx context.Context, otx domain.OrderTx) error {
		no, err := otx.NextOrderNo(ctx, 1000)
		if err != nil {
			return err
		}
		orderNo = no
		order := sampleOrder("order-1", time.Now().UTC())
		order.OrderNo = no
		if err := otx.InsertOrder(ctx, order); err != nil {
			return err
		}
		record, err = otx.EnqueueOutbox(ctx, domain.OutboxRecord{MessageType: "OrderCreated", AggregateID: order.ID, Payload: []byte(`{}`)})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1042), orderNo)
	require.NotEmpty(t, record.ID)
	require.False(t, record.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_FirstOrderUsesFloor(t *testing.T) {
	store, mock := newMockStore(t)
	tx := NewTransactor(store)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`MAX\(order_no\)`).WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectCommit()

	var orderNo int64
	err := tx.InTx(context.Background(), func(ctx context.Context, otx domain.OrderTx) error {
		var err error
		orderNo, err = otx.NextOrderNo(ctx, 1000)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), orderNo)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_RollsBackOnUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	tx := NewTransactor(store)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := tx.InTx(context.Background(), func(ctx context.Context, otx domain.OrderTx) error {
		order := sampleOrder("order-1", time.Now().UTC())
		order.OrderNo = 1000
		return otx.InsertOrder(ctx, order)
	})
	require.ErrorIs(t, err, domain.ErrOrderNoConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_DuplicateOrderID(t *testing.T) {
	store, mock := newMockStore(t)
	tx := NewTransactor(store)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"})
	mock.ExpectRollback()

	err := tx.InTx(context.Background(), func(ctx context.Context, otx domain.OrderTx) error {
		order := sampleOrder("order-1", time.Now().UTC())
		order.OrderNo = 1000
		return otx.InsertOrder(ctx, order)
	})
	require.ErrorIs(t, err, domain.ErrOrderAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_InvalidOrderIsNeverInserted(t *testing.T) {
	store, mock := newMockStore(t)
	tx := NewTransactor(store)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := tx.InTx(context.Background(), func(ctx context.Context, otx domain.OrderTx) error {
		order := sampleOrder("order-1", time.Now().UTC())
		order.Items = nil
		return otx.InsertOrder(ctx, order)
	})
	require.ErrorIs(t, err, domain.ErrItemsRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}
