package events

import "github.com/vladislavdragonenkov/streamflow/internal/domain"

// NewOrderCreated строит обогащённое событие по только что сохранённому заказу.
func NewOrderCreated(order domain.Order, priority uint8) OrderCreated {
	return OrderCreated{
		OrderID:         order.ID,
		OrderNo:         order.OrderNo,
		OrderType:       string(order.OrderType),
		Priority:        priority,
		Items:           ItemsFromOrder(order.Items),
		Customer:        CustomerFromOrder(order.Customer),
		ShippingAddress: AddressFromOrder(order.ShippingAddress),
		TotalAmount:     order.TotalAmount,
		TotalItems:      order.TotalQuantity(),
		CorrelationID:   order.CorrelationID,
		CreatedAt:       order.CreatedAt,
	}
}

// ItemsFromOrder копирует позиции заказа в контракт события.
func ItemsFromOrder(items []domain.OrderItem) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, Item{
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return out
}

func CustomerFromOrder(c domain.Customer) Customer {
	return Customer{
		CustomerID:   c.ID,
		Name:         c.FullName(),
		Email:        c.Email,
		CustomerType: c.CustomerType,
	}
}

func AddressFromOrder(a domain.ShippingAddress) Address {
	return Address{
		Street:     a.Street,
		City:       a.City,
		PostalCode: a.PostalCode,
		State:      a.State,
		Country:    a.Country,
	}
}
