package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

const selectOrderColumns = `
	SELECT id, order_no, correlation_id, state, order_type, total_amount,
	       customer_id, customer_first_name, customer_last_name, customer_email, customer_type,
	       ship_street, ship_city, ship_postal_code, ship_state, ship_country,
	       payment_method, payment_status, payment_transaction_id, payment_currency,
	       payment_amount, payment_paid_at,
	       version, created_at, updated_at
	FROM orders`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.getOne(ctx, selectOrderColumns+` WHERE id = $1`, id)
}

func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.getOne(ctx, selectOrderColumns+` WHERE order_no = $1`, orderNo)
}

func (r *orderRepository) getOne(ctx context.Context, query string, arg any) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, dbError("select order", err)
	}

	items, err := loadItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// Save обновляет состояние заказа и статусы позиций, если версия не изменилась.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (saved domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, dbError("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET state = $1,
		    updated_at = $2,
		    version = version + 1
		WHERE id = $3
		  AND version = $4
	`,
		string(order.State),
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return domain.Order{}, dbError("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, dbError("rows affected", err)
	}
	if affected == 0 {
		exists, existsErr := orderExists(ctx, tx, order.ID)
		if existsErr != nil {
			err = existsErr
			return domain.Order{}, err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return domain.Order{}, err
		}
		err = domain.ErrOrderVersionConflict
		return domain.Order{}, err
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $1
			WHERE order_id = $2
			  AND line_no = $3
		`, string(item.Status), order.ID, i); err != nil {
			return domain.Order{}, dbError("update order item", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, dbError("commit save order", err)
	}

	saved = order.Clone()
	saved.Version++
	return saved, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		state     string
		orderType string
		paidAt    sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.OrderNo, &order.CorrelationID, &state, &orderType, &order.TotalAmount,
		&order.Customer.ID, &order.Customer.FirstName, &order.Customer.LastName, &order.Customer.Email, &order.Customer.CustomerType,
		&order.ShippingAddress.Street, &order.ShippingAddress.City, &order.ShippingAddress.PostalCode,
		&order.ShippingAddress.State, &order.ShippingAddress.Country,
		&order.Payment.Method, &order.Payment.Status, &order.Payment.TransactionID, &order.Payment.Currency,
		&order.Payment.Amount, &paidAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.State = domain.OrderState(state)
	order.OrderType = domain.OrderType(orderType)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.Payment.PaidAt = &t
	}
	return order, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku, product_name, quantity, unit_price, line_total, status
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, dbError("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item   domain.OrderItem
			status string
		)
		if err := rows.Scan(&item.SKU, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal, &status); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Status = domain.ItemStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate order items", err)
	}

	return items, nil
}

func orderExists(ctx context.Context, q queryer, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, dbError("check order exists", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
