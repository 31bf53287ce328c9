package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event: общий интерфейс событий саги. Каждое событие самодостаточно:
// получатель не обращается к предыдущим стадиям за деталями.
type Event interface {
	Type() MessageType
	Correlation() string
	AggregateID() string
}

// Item: позиция заказа в событиях.
type Item struct {
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Customer: денормализованные данные клиента.
type Customer struct {
	CustomerID   string `json:"customerId"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	CustomerType string `json:"customerType,omitempty"`
}

// Address: адрес доставки.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
}

// OrderCreated публикуется через outbox после фиксации заказа.
type OrderCreated struct {
	OrderID         string          `json:"orderId"`
	OrderNo         int64           `json:"orderNo"`
	OrderType       string          `json:"orderType"`
	Priority        uint8           `json:"priority"`
	Items           []Item          `json:"items"`
	Customer        Customer        `json:"customer"`
	ShippingAddress Address         `json:"shippingAddress"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	TotalItems      int32           `json:"totalItems"`
	CorrelationID   string          `json:"correlationId"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// StockReserved: единственное событие резервирования, полное или частичное.
// При частичном резерве Items содержит только доступные позиции.
type StockReserved struct {
	OrderID              string    `json:"orderId"`
	OrderNo              int64     `json:"orderNo"`
	OrderType            string    `json:"orderType"`
	Priority             uint8     `json:"priority"`
	CorrelationID        string    `json:"correlationId"`
	ReservedAt           time.Time `json:"reservedAt"`
	Items                []Item    `json:"items"`
	Customer             Customer  `json:"customer"`
	ShippingAddress      Address   `json:"shippingAddress"`
	IsPartialReservation bool      `json:"isPartialReservation"`
	TotalRequested       int       `json:"totalRequested"`
	TotalReserved        int       `json:"totalReserved"`
}

// StockUnavailable: ни одна позиция не может быть зарезервирована.
type StockUnavailable struct {
	OrderID         string    `json:"orderId"`
	OrderNo         int64     `json:"orderNo"`
	Priority        uint8     `json:"priority"`
	CorrelationID   string    `json:"correlationId"`
	UnavailableSKUs []string  `json:"unavailableSkus"`
	Reason          string    `json:"reason"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// OrderPicked: сборка завершена для зарезервированных позиций.
type OrderPicked struct {
	OrderID         string    `json:"orderId"`
	OrderNo         int64     `json:"orderNo"`
	OrderType       string    `json:"orderType"`
	Priority        uint8     `json:"priority"`
	CorrelationID   string    `json:"correlationId"`
	PickedAt        time.Time `json:"pickedAt"`
	PickedBy        string    `json:"pickedBy"`
	Items           []Item    `json:"items"`
	Customer        Customer  `json:"customer"`
	ShippingAddress Address   `json:"shippingAddress"`
}

// OrderPacked: заказ упакован и готов к отгрузке.
type OrderPacked struct {
	OrderID         string          `json:"orderId"`
	OrderNo         int64           `json:"orderNo"`
	Priority        uint8           `json:"priority"`
	CorrelationID   string          `json:"correlationId"`
	PackedAt        time.Time       `json:"packedAt"`
	PackedBy        string          `json:"packedBy"`
	TotalWeight     decimal.Decimal `json:"totalWeight"`
	BoxSize         string          `json:"boxSize"`
	Items           []Item          `json:"items"`
	ShippingAddress Address         `json:"shippingAddress"`
}

// OrderInvalid фиксирует отклонённый при валидации заказ.
type OrderInvalid struct {
	OrderID          string    `json:"orderId,omitempty"`
	CorrelationID    string    `json:"correlationId"`
	InvalidatedAt    time.Time `json:"invalidatedAt"`
	Reason           string    `json:"reason"`
	ValidationErrors []string  `json:"validationErrors"`
	OrderJSON        string    `json:"orderJson"`
}

// ExceptionInfo: звено цепочки ошибок в Fault.
type ExceptionInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Fault: сообщение, исчерпавшее повторные доставки.
type Fault struct {
	FaultID       string          `json:"faultId"`
	MessageType   MessageType     `json:"messageType"`
	Queue         string          `json:"queue"`
	OrderID       string          `json:"orderId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Message       json.RawMessage `json:"message"`
	Exceptions    []ExceptionInfo `json:"exceptions"`
	Attempts      int             `json:"attempts"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (e OrderCreated) Type() MessageType {
	return TypeOrderCreated
}

func (e OrderCreated) Correlation() string {
	return e.CorrelationID
}

func (e OrderCreated) AggregateID() string {
	return e.OrderID
}

func (e StockReserved) Type() MessageType {
	return TypeStockReserved
}

func (e StockReserved) Correlation() string {
	return e.CorrelationID
}

func (e StockReserved) AggregateID() string {
	return e.OrderID
}

func (e StockUnavailable) Type() MessageType {
	return TypeStockUnavailable
}

func (e StockUnavailable) Correlation() string {
	return e.CorrelationID
}

func (e StockUnavailable) AggregateID() string {
	return e.OrderID
}

func (e OrderPicked) Type() MessageType {
	return TypeOrderPicked
}

func (e OrderPicked) Correlation() string {
	return e.CorrelationID
}

func (e OrderPicked) AggregateID() string {
	return e.OrderID
}

func (e OrderPacked) Type() MessageType {
	return TypeOrderPacked
}

func (e OrderPacked) Correlation() string {
	return e.CorrelationID
}

func (e OrderPacked) AggregateID() string {
	return e.OrderID
}

func (e OrderInvalid) Type() MessageType {
	return TypeOrderInvalid
}

func (e OrderInvalid) Correlation() string {
	return e.CorrelationID
}

func (e OrderInvalid) AggregateID() string {
	return e.OrderID
}

func (e Fault) Type() MessageType {
	return TypeFault
}

func (e Fault) Correlation() string {
	return e.CorrelationID
}

func (e Fault) AggregateID() string {
	return e.OrderID
}

// SKUs возвращает SKU позиций в исходном порядке.
func SKUs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.SKU)
	}
	return out
}

// TotalQuantity возвращает суммарное количество единиц.
func TotalQuantity(items []Item) int32 {
	var qty int32
	for _, item := range items {
		qty += item.Quantity
	}
	return qty
}
