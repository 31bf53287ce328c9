package events

import "strings"

// MessageType: тег типа сообщения, по которому работает диспетчеризация.
type MessageType string

const (
	TypeCreateOrderRequest  MessageType = "CreateOrderRequest"
	TypeCreateOrderResponse MessageType = "CreateOrderResponse"
	TypeOrderCreated        MessageType = "OrderCreated"
	TypeStockReserved       MessageType = "StockReserved"
	TypeStockUnavailable    MessageType = "StockUnavailable"
	TypeOrderPicked         MessageType = "OrderPicked"
	TypeOrderPacked         MessageType = "OrderPacked"
	TypeOrderInvalid        MessageType = "OrderInvalid"
	TypeFault               MessageType = "Fault"
)

var topics = map[MessageType]string{
	TypeCreateOrderRequest:  "streamflow.create-order-request",
	TypeCreateOrderResponse: "streamflow.create-order-response",
	TypeOrderCreated:        "streamflow.order-created",
	TypeStockReserved:       "streamflow.stock-reserved",
	TypeStockUnavailable:    "streamflow.stock-unavailable",
	TypeOrderPicked:         "streamflow.order-picked",
	TypeOrderPacked:         "streamflow.order-packed",
	TypeOrderInvalid:        "streamflow.order-invalid",
	TypeFault:               "streamflow.fault",
}

// Valid проверяет, что тип известен.
func (t MessageType) Valid() bool {
	_, ok := topics[t]
	return ok
}

// Topic возвращает имя топика (exchange routing key) для типа сообщения.
// Один топик на тип события.
func (t MessageType) Topic() string {
	if topic, ok := topics[t]; ok {
		return topic
	}
	return "streamflow." + strings.ToLower(string(t))
}

// TypeFromTopic выполняет обратное преобразование Topic.
func TypeFromTopic(topic string) (MessageType, bool) {
	topic = strings.TrimSuffix(topic, PriorityLaneSuffix)
	for t, name := range topics {
		if name == topic {
			return t, true
		}
	}
	return "", false
}

// PriorityLaneSuffix добавляется к топику приоритетной полосы у брокеров
// без приоритетных очередей.
const PriorityLaneSuffix = ".priority"

// Очереди стадий. Имена отражают стадию и назначение.
const (
	QueueCreateOrderRequest   = "create-order-request"
	QueueInventoryCheck       = "inventory-check"
	QueueERPStockReserved     = "erp-stock-reserved"
	QueueERPStockUnavailable  = "erp-stock-unavailable"
	QueueERPOrderPicked       = "erp-order-picked"
	QueueERPOrderPacked       = "erp-order-packed"
	QueueERPInvalidOrder      = "erp-invalid-order"
	QueuePickingStockReserved = "picking-stock-reserved"
	QueuePackingOrderPicked   = "packing-order-picked"
)

// DeadLetterQueue возвращает имя dead-letter очереди стадии.
func DeadLetterQueue(stage string) string {
	return stage + "-dead-letter"
}

// Приоритеты транспорта.
const (
	PriorityStandard  uint8 = 1
	PriorityExpedited uint8 = 9
	// MaxPriority: значение x-max-priority для приоритетных очередей.
	MaxPriority uint8 = 10
)
