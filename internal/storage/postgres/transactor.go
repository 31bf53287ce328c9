package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

// ordersPrimaryKey: ограничение первичного ключа таблицы orders.
const ordersPrimaryKey = "orders_pkey"

// orderNoLockKey: ключ транзакционной advisory-блокировки выдачи номеров заказов.
const orderNoLockKey = int64(20240601)

type transactor struct {
	db *sql.DB
}

// NewTransactor создаёт единицу работы создания заказа поверх PostgreSQL.
func NewTransactor(store *Store) domain.Transactor {
	return &transactor{db: store.DB()}
}

// InTx открывает транзакцию, выполняет fn и фиксирует изменения только при успехе.
func (t *transactor) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return dbError("commit order tx", err)
	}
	return nil
}

type orderTx struct {
	tx *sql.Tx
}

// NextOrderNo сериализует выдачу номеров advisory-блокировкой до конца транзакции.
func (o *orderTx) NextOrderNo(ctx context.Context, floor int64) (int64, error) {
	if _, err := o.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, orderNoLockKey); err != nil {
		return 0, dbError("lock order sequence", err)
	}

	var highest int64
	if err := o.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_no), 0) FROM orders`).Scan(&highest); err != nil {
		return 0, dbError("select max order_no", err)
	}

	if highest == 0 || highest+1 < floor {
		return floor, nil
	}
	return highest + 1, nil
}

func (o *orderTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}
	if order.Version == 0 {
		order.Version = 1
	}

	var paidAt any
	if order.Payment.PaidAt != nil {
		paidAt = order.Payment.PaidAt.UTC()
	}

	_, err := o.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_no, correlation_id, state, order_type, total_amount,
			customer_id, customer_first_name, customer_last_name, customer_email, customer_type,
			ship_street, ship_city, ship_postal_code, ship_state, ship_country,
			payment_method, payment_status, payment_transaction_id, payment_currency,
			payment_amount, payment_paid_at,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`,
		order.ID, order.OrderNo, order.CorrelationID, string(order.State), string(order.OrderType), order.TotalAmount,
		order.Customer.ID, order.Customer.FirstName, order.Customer.LastName, order.Customer.Email, order.Customer.CustomerType,
		order.ShippingAddress.Street, order.ShippingAddress.City, order.ShippingAddress.PostalCode,
		order.ShippingAddress.State, order.ShippingAddress.Country,
		order.Payment.Method, order.Payment.Status, order.Payment.TransactionID, order.Payment.Currency,
		order.Payment.Amount, paidAt,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == ordersPrimaryKey {
				return domain.ErrOrderAlreadyExists
			}
			return domain.ErrOrderNoConflict
		}
		return dbError("insert order", err)
	}

	for i, item := range order.Items {
		status := item.Status
		if status == "" {
			status = domain.ItemStatusPending
		}
		if _, err := o.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, line_no, sku, product_name, quantity, unit_price, line_total, status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, i, item.SKU, item.ProductName, item.Quantity, item.UnitPrice, item.LineTotal, string(status),
		); err != nil {
			return dbError(fmt.Sprintf("insert order item %s", item.SKU), err)
		}
	}

	return nil
}

func (o *orderTx) EnqueueOutbox(ctx context.Context, record domain.OutboxRecord) (domain.OutboxRecord, error) {
	return insertOutbox(ctx, o.tx, record)
}

func insertOutbox(ctx context.Context, q queryer, record domain.OutboxRecord) (domain.OutboxRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.ProcessedAt = nil
	record.RetryCount = 0

	if _, err := q.ExecContext(ctx, `
		INSERT INTO outbox (
			id, message_type, aggregate_id, correlation_id, priority, payload, created_at, retry_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0)
	`,
		record.ID, record.MessageType, record.AggregateID, record.CorrelationID,
		int16(record.Priority), record.Payload, record.CreatedAt,
	); err != nil {
		return domain.OutboxRecord{}, dbError("enqueue outbox record", err)
	}

	return record, nil
}

var _ domain.Transactor = (*transactor)(nil)
