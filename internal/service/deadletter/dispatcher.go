package deadletter

import (
	"context"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// Dispatcher выбирает обработчик dead-letter по типу сообщения.
// Сообщения незарегистрированных типов обрабатываются общим Recorder.
type Dispatcher struct {
	handlers map[events.MessageType]messaging.FaultSink
	recorder *Recorder
}

// NewDispatcher создаёт Dispatcher с обработчиками всех типов саги.
func NewDispatcher(recorder *Recorder) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[events.MessageType]messaging.FaultSink),
		recorder: recorder,
	}
	d.Register(events.TypeCreateOrderRequest, NewFaultHandler[events.CreateOrderRequest](recorder))
	d.Register(events.TypeOrderCreated, NewFaultHandler[events.OrderCreated](recorder))
	d.Register(events.TypeStockReserved, NewFaultHandler[events.StockReserved](recorder))
	d.Register(events.TypeStockUnavailable, NewFaultHandler[events.StockUnavailable](recorder))
	d.Register(events.TypeOrderPicked, NewFaultHandler[events.OrderPicked](recorder))
	d.Register(events.TypeOrderPacked, NewFaultHandler[events.OrderPacked](recorder))
	d.Register(events.TypeOrderInvalid, NewFaultHandler[events.OrderInvalid](recorder))
	d.Register(events.TypeFault, NewFaultHandler[events.Fault](recorder))
	return d
}

// Register назначает обработчик типу сообщения.
func (d *Dispatcher) Register(t events.MessageType, sink messaging.FaultSink) {
	d.handlers[t] = sink
}

// HandleFault реализует messaging.FaultSink.
func (d *Dispatcher) HandleFault(ctx context.Context, msg messaging.Message, attempts int, cause error) {
	if sink, ok := d.handlers[msg.Type]; ok {
		sink.HandleFault(ctx, msg, attempts, cause)
		return
	}
	d.recorder.record(ctx, msg, msg.Key, msg.CorrelationID, attempts, cause)
}

var (
	_ messaging.FaultSink = (*Dispatcher)(nil)
	_ messaging.FaultSink = (*FaultHandler[events.OrderPicked])(nil)
)
