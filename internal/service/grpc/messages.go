package grpcsvc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/service/intake"
)

// GetOrderRequest ищет заказ по идентификатору либо по номеру.
type GetOrderRequest struct {
	OrderID string `json:"orderId,omitempty"`
	OrderNo int64  `json:"orderNo,omitempty"`
}

// OrderItem: позиция заказа в ответе трекинга.
type OrderItem struct {
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	Status      string          `json:"status"`
}

// TimelineEntry: запись истории статусов.
type TimelineEntry struct {
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// Order: read-only представление заказа.
type Order struct {
	OrderID       string          `json:"orderId"`
	OrderNo       int64           `json:"orderNo"`
	CorrelationID string          `json:"correlationId"`
	State         string          `json:"state"`
	OrderType     string          `json:"orderType"`
	CustomerName  string          `json:"customerName"`
	Country       string          `json:"country"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Items         []OrderItem     `json:"items"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// GetOrderResponse: заказ и его история.
type GetOrderResponse struct {
	Order   Order           `json:"order"`
	History []TimelineEntry `json:"history"`
}

func toGetOrderResponse(view intake.OrderView) *GetOrderResponse {
	resp := &GetOrderResponse{
		Order:   toOrder(view.Order),
		History: make([]TimelineEntry, 0, len(view.History)),
	}
	for _, event := range view.History {
		resp.History = append(resp.History, TimelineEntry{
			State:    string(event.State),
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return resp
}

func toOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			Status:      string(item.Status),
		})
	}
	return Order{
		OrderID:       order.ID,
		OrderNo:       order.OrderNo,
		CorrelationID: order.CorrelationID,
		State:         string(order.State),
		OrderType:     string(order.OrderType),
		CustomerName:  order.Customer.FullName(),
		Country:       order.ShippingAddress.Country,
		TotalAmount:   order.TotalAmount,
		Items:         items,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
