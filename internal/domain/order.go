package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState описывает жизненный цикл заказа в саге исполнения.
type OrderState string

const (
	// OrderStateCreated: заказ сохранён, резервирование ещё не выполнено.
	OrderStateCreated OrderState = "Created"
	// OrderStateStockReserved: все позиции зарезервированы.
	OrderStateStockReserved OrderState = "StockReserved"
	// OrderStatePartialDelivered: зарезервирована только часть позиций.
	OrderStatePartialDelivered OrderState = "PartialDelivered"
	// OrderStateStockUnavailable: ни одна позиция недоступна (терминальная ошибка).
	OrderStateStockUnavailable OrderState = "StockUnavailable"
	// OrderStateFailed: заказ не прошёл валидацию (терминальное состояние).
	OrderStateFailed OrderState = "Failed"
	// OrderStatePicked: позиции собраны на складе.
	OrderStatePicked OrderState = "Picked"
	// OrderStatePacked: заказ упакован (терминальный успех).
	OrderStatePacked OrderState = "Packed"
)

// Terminal возвращает true для состояний, из которых переходов нет.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateStockUnavailable, OrderStateFailed, OrderStatePacked:
		return true
	default:
		return false
	}
}

// Reserved возвращает true, если по заказу принято положительное решение склада.
func (s OrderState) Reserved() bool {
	return s == OrderStateStockReserved || s == OrderStatePartialDelivered
}

// ItemStatus: статус исполнения отдельной позиции.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "Pending"
	ItemStatusAvailable   ItemStatus = "Available"
	ItemStatusUnavailable ItemStatus = "Unavailable"
	ItemStatusPicked      ItemStatus = "Picked"
	ItemStatusPacked      ItemStatus = "Packed"
)

// CanAdvanceTo проверяет допустимость перехода позиции вперёд.
// Unavailable: конечный статус.
func (s ItemStatus) CanAdvanceTo(next ItemStatus) bool {
	switch s {
	case ItemStatusPending:
		return next == ItemStatusAvailable || next == ItemStatusUnavailable
	case ItemStatusAvailable:
		return next == ItemStatusPicked
	case ItemStatusPicked:
		return next == ItemStatusPacked
	default:
		return false
	}
}

// OrderType: маркер срочности обработки.
type OrderType string

const (
	OrderTypeStandard OrderType = "Standard"
	OrderTypePriority OrderType = "Priority"
)

// AmountTolerance: допустимое расхождение суммы заказа и суммы позиций.
var AmountTolerance = decimal.New(1, -2)

// Customer: снимок данных клиента на момент создания заказа.
type Customer struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	CustomerType string
}

// FullName возвращает имя клиента для обогащённых событий.
func (c Customer) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// ShippingAddress: снимок адреса доставки.
type ShippingAddress struct {
	Street     string
	City       string
	PostalCode string
	State      string
	Country    string
}

// Payment: снимок платёжной информации. Сага оплату не проводит.
type Payment struct {
	Method        string
	Status        string
	TransactionID string
	Currency      string
	Amount        decimal.Decimal
	PaidAt        *time.Time
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	SKU         string
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	Status      ItemStatus
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	OrderNo         int64
	CorrelationID   string
	State           OrderState
	OrderType       OrderType
	TotalAmount     decimal.Decimal
	Customer        Customer
	ShippingAddress ShippingAddress
	Payment         Payment
	Items           []OrderItem
	// Version используется для optimistic concurrency при сохранении.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemsTotal считает сумму unitPrice*qty по всем позициям.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
	}
	return total
}

// TotalQuantity возвращает суммарное количество единиц товара.
func (o *Order) TotalQuantity() int32 {
	var qty int32
	for _, item := range o.Items {
		qty += item.Quantity
	}
	return qty
}

// ValidateInvariants проверяет инварианты агрегата, которые обязаны выполняться до сохранения.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.ID) == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.ItemsTotal().Sub(o.TotalAmount).Abs().GreaterThan(AmountTolerance) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.Payment.PaidAt != nil {
		paidAt := *o.Payment.PaidAt
		dst.Payment.PaidAt = &paidAt
	}
	return dst
}

// ItemsWithStatus возвращает позиции в указанном статусе.
func (o *Order) ItemsWithStatus(status ItemStatus) []OrderItem {
	var out []OrderItem
	for _, item := range o.Items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	return out
}

// ApplyReservation применяет решение склада о резервировании.
// При partial=false все позиции становятся Available, иначе Available получают
// только позиции из reservedSKUs, остальные — Unavailable.
// Возвращает false, если событие уже было применено.
func (o *Order) ApplyReservation(reservedSKUs []string, partial bool, at time.Time) (bool, error) {
	target := OrderStateStockReserved
	if partial {
		target = OrderStatePartialDelivered
	}

	switch {
	case o.State == target:
		// Повторная доставка того же решения.
		return false, nil
	case o.State != OrderStateCreated:
		return false, ErrTransitionStale
	}

	reserved := skuSet(reservedSKUs)
	for i := range o.Items {
		next := ItemStatusAvailable
		if partial {
			if _, ok := reserved[o.Items[i].SKU]; !ok {
				next = ItemStatusUnavailable
			}
		}
		if err := o.advanceItem(i, next); err != nil {
			return false, err
		}
	}

	o.transition(target, at)
	return true, nil
}

// ApplyStockUnavailable фиксирует, что ни одна позиция не может быть зарезервирована.
func (o *Order) ApplyStockUnavailable(at time.Time) (bool, error) {
	switch o.State {
	case OrderStateStockUnavailable:
		return false, nil
	case OrderStateCreated:
	default:
		return false, ErrTransitionStale
	}

	for i := range o.Items {
		if err := o.advanceItem(i, ItemStatusUnavailable); err != nil {
			return false, err
		}
	}

	o.transition(OrderStateStockUnavailable, at)
	return true, nil
}

// ApplyPicked переводит собранные позиции в Picked. Пустой набор означает
// «все зарезервированные позиции». Unavailable позиции не трогаются.
func (o *Order) ApplyPicked(pickedSKUs []string, at time.Time) (bool, error) {
	switch {
	case o.State == OrderStateCreated:
		return false, ErrTransitionPremature
	case o.State.Reserved(), o.State == OrderStatePicked:
	default:
		return false, ErrTransitionStale
	}

	changed := o.advanceMatching(pickedSKUs, ItemStatusAvailable, ItemStatusPicked)
	if o.State != OrderStatePicked {
		o.transition(OrderStatePicked, at)
		return true, nil
	}
	if changed {
		o.UpdatedAt = at
	}
	return changed, nil
}

// ApplyPacked переводит упакованные позиции в Packed.
func (o *Order) ApplyPacked(packedSKUs []string, at time.Time) (bool, error) {
	switch {
	case o.State == OrderStateCreated, o.State.Reserved():
		return false, ErrTransitionPremature
	case o.State == OrderStatePicked, o.State == OrderStatePacked:
	default:
		return false, ErrTransitionStale
	}

	changed := o.advanceMatching(packedSKUs, ItemStatusPicked, ItemStatusPacked)
	if o.State != OrderStatePacked {
		o.transition(OrderStatePacked, at)
		return true, nil
	}
	if changed {
		o.UpdatedAt = at
	}
	return changed, nil
}

func (o *Order) advanceMatching(skus []string, from, to ItemStatus) bool {
	set := skuSet(skus)
	changed := false
	for i := range o.Items {
		if o.Items[i].Status != from {
			continue
		}
		if len(set) > 0 {
			if _, ok := set[o.Items[i].SKU]; !ok {
				continue
			}
		}
		o.Items[i].Status = to
		changed = true
	}
	return changed
}

func (o *Order) advanceItem(i int, next ItemStatus) error {
	current := o.Items[i].Status
	if current == "" {
		current = ItemStatusPending
	}
	if current == next {
		return nil
	}
	if !current.CanAdvanceTo(next) {
		return ErrItemStatusRegression
	}
	o.Items[i].Status = next
	return nil
}

func (o *Order) transition(state OrderState, at time.Time) {
	o.State = state
	o.UpdatedAt = at
}

func skuSet(skus []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		set[sku] = struct{}{}
	}
	return set
}
