package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageType возвращается при декодировании сообщения неизвестного типа.
var ErrUnknownMessageType = errors.New("unknown message type")

// Encode сериализует событие в JSON.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return payload, nil
}

// Unmarshal декодирует payload в конкретный тип события.
func Unmarshal[T Event](payload []byte) (T, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("decode %s: %w", event.Type(), err)
	}
	return event, nil
}

// Decode декодирует payload по тегу типа.
func Decode(t MessageType, payload []byte) (Event, error) {
	switch t {
	case TypeCreateOrderRequest:
		return decodeAs[CreateOrderRequest](payload)
	case TypeCreateOrderResponse:
		return decodeAs[CreateOrderResponse](payload)
	case TypeOrderCreated:
		return decodeAs[OrderCreated](payload)
	case TypeStockReserved:
		return decodeAs[StockReserved](payload)
	case TypeStockUnavailable:
		return decodeAs[StockUnavailable](payload)
	case TypeOrderPicked:
		return decodeAs[OrderPicked](payload)
	case TypeOrderPacked:
		return decodeAs[OrderPacked](payload)
	case TypeOrderInvalid:
		return decodeAs[OrderInvalid](payload)
	case TypeFault:
		return decodeAs[Fault](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
	}
}

func decodeAs[T Event](payload []byte) (Event, error) {
	event, err := Unmarshal[T](payload)
	if err != nil {
		return nil, err
	}
	return event, nil
}
