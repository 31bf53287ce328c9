package routing

import (
	"fmt"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// Decision: итог проверки наличия: вариант события и позиции, с которыми
// работают следующие стадии.
type Decision struct {
	Variant     events.MessageType
	Actionable  []events.Item
	Unavailable []events.Item
	Partial     bool
	// TotalRequested и TotalReserved считаются по позициям, а не по единицам товара.
	TotalRequested int
	TotalReserved  int
}

// Decide выбирает вариант события по разбиению позиций на доступные и недоступные.
func Decide(available, unavailable []events.Item) Decision {
	d := Decision{
		Actionable:     available,
		Unavailable:    unavailable,
		TotalRequested: len(available) + len(unavailable),
		TotalReserved:  len(available),
	}
	switch {
	case len(available) == 0:
		d.Variant = events.TypeStockUnavailable
		d.Actionable = nil
	case len(unavailable) == 0:
		d.Variant = events.TypeStockReserved
	default:
		d.Variant = events.TypeStockReserved
		d.Partial = true
	}
	return d
}

// Reason формирует текст причины для StockUnavailable.
func (d Decision) Reason() string {
	if d.Variant != events.TypeStockUnavailable {
		return ""
	}
	return fmt.Sprintf("All %d items out of stock", len(d.Unavailable))
}
