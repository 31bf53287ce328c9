package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderRequest: запрос на создание заказа: полный граф заказа и
// необязательный correlation id от вызывающей стороны.
type CreateOrderRequest struct {
	Order         OrderPayload `json:"order"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

// CreateOrderResponse: ответ intake. ErrorMessage заполняется только при ошибке.
type CreateOrderResponse struct {
	OrderNo               int64  `json:"orderNo"`
	IsSuccessfullyCreated bool   `json:"isSuccessfullyCreated"`
	ErrorMessage          string `json:"errorMessage,omitempty"`
	CorrelationID         string `json:"correlationId,omitempty"`
}

// OrderPayload: входной граф заказа. Структурные правила описаны тегами validate,
// денежные правила проверяются сервисом intake.
type OrderPayload struct {
	OrderID         string           `json:"orderId,omitempty" validate:"omitempty,uuid"`
	IsPreOrder      bool             `json:"isPreOrder,omitempty"`
	Customer        *CustomerPayload `json:"customer" validate:"required"`
	ShippingAddress *AddressPayload  `json:"shippingAddress" validate:"required"`
	Payment         *PaymentPayload  `json:"payment" validate:"required"`
	Items           []ItemPayload    `json:"items" validate:"min=1,dive"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
}

// CustomerPayload: данные клиента во входном запросе.
type CustomerPayload struct {
	CustomerID   string `json:"customerId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email" validate:"required,email"`
	CustomerType string `json:"customerType,omitempty"`
}

// AddressPayload: адрес доставки во входном запросе.
type AddressPayload struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country" validate:"required,notblank"`
}

// PaymentPayload: снимок оплаты во входном запросе.
type PaymentPayload struct {
	Method        string          `json:"method" validate:"required"`
	Status        string          `json:"status,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
}

// ItemPayload: позиция во входном запросе.
type ItemPayload struct {
	SKU         string          `json:"sku" validate:"required,notblank"`
	ProductName string          `json:"productName" validate:"required,notblank"`
	Quantity    int32           `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (r CreateOrderRequest) Type() MessageType {
	return TypeCreateOrderRequest
}

func (r CreateOrderRequest) Correlation() string {
	return r.CorrelationID
}

func (r CreateOrderRequest) AggregateID() string {
	return r.Order.OrderID
}

func (r CreateOrderResponse) Type() MessageType {
	return TypeCreateOrderResponse
}

func (r CreateOrderResponse) Correlation() string {
	return r.CorrelationID
}

// AggregateID у ответа — correlation id: номер заказа при ошибке отсутствует.
func (r CreateOrderResponse) AggregateID() string {
	return r.CorrelationID
}
