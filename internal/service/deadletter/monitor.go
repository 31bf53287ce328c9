package deadletter

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// MonitorStage: стадия, чья dead-letter очередь собирает Fault всех стадий.
const MonitorStage = "erp"

// Monitor собирает события Fault от всех стадий в одном хранилище,
// чтобы их можно было разобрать и переиграть из сервиса заказов.
type Monitor struct {
	faults domain.FaultRepository
	logger *log.Entry
}

// NewMonitor создаёт Monitor.
func NewMonitor(faults domain.FaultRepository, logger *log.Entry) *Monitor {
	if logger == nil {
		logger = log.WithField("component", "fault-monitor")
	}
	return &Monitor{faults: faults, logger: logger}
}

// Subscription возвращает подписку на dead-letter очередь сервиса заказов.
func (m *Monitor) Subscription() messaging.Subscription {
	return messaging.Subscription{
		Queue:   events.DeadLetterQueue(MonitorStage),
		Types:   []events.MessageType{events.TypeFault},
		Workers: 1,
		Handler: m.Handle,
	}
}

// Handle сохраняет полученный Fault. Уже записанный fault пропускается.
func (m *Monitor) Handle(ctx context.Context, msg messaging.Message) error {
	fault, err := events.Unmarshal[events.Fault](msg.Body)
	if err != nil {
		return err
	}

	entry := m.logger.WithFields(log.Fields{
		"fault_id":       fault.FaultID,
		"message_type":   fault.MessageType,
		"queue":          fault.Queue,
		"order_id":       fault.OrderID,
		"correlation_id": fault.CorrelationID,
	})

	err = m.faults.Save(ctx, RecordFromEvent(fault))
	switch {
	case errors.Is(err, domain.ErrFaultAlreadyExists):
		entry.Debug("fault already recorded")
		return nil
	case err != nil:
		return err
	}
	entry.Warn("fault recorded from dead-letter queue")
	return nil
}
