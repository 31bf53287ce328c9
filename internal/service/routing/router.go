// Package routing определяет приоритет исполнения заказа и вариант события
// резервирования, по которому работают следующие стадии.
package routing

import (
	"strings"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// DefaultExpeditedCountries: страны доставки, заказы в которые обрабатываются срочно.
var DefaultExpeditedCountries = []string{"DK"}

// Router назначает приоритет по стране доставки и типу заказа.
type Router struct {
	expedited map[string]struct{}
}

// NewRouter создаёт Router. Пустой список означает набор по умолчанию.
func NewRouter(expeditedCountries []string) *Router {
	if len(expeditedCountries) == 0 {
		expeditedCountries = DefaultExpeditedCountries
	}
	set := make(map[string]struct{}, len(expeditedCountries))
	for _, country := range expeditedCountries {
		country = normalizeCountry(country)
		if country != "" {
			set[country] = struct{}{}
		}
	}
	return &Router{expedited: set}
}

// Expedited сообщает, входит ли страна в срочный набор.
func (r *Router) Expedited(country string) bool {
	_, ok := r.expedited[normalizeCountry(country)]
	return ok
}

// OrderType возвращает тип заказа: Priority для срочной страны доставки.
func (r *Router) OrderType(country string) domain.OrderType {
	if r.Expedited(country) {
		return domain.OrderTypePriority
	}
	return domain.OrderTypeStandard
}

// Priority возвращает транспортный приоритет заказа.
func (r *Router) Priority(country string, orderType domain.OrderType) uint8 {
	if orderType == domain.OrderTypePriority || r.Expedited(country) {
		return events.PriorityExpedited
	}
	return events.PriorityStandard
}

// Carry возвращает приоритет, который нужно передать дальше по саге.
// Приоритет из события сохраняется; если его нет, он вычисляется заново.
func (r *Router) Carry(priority uint8, country, orderType string) uint8 {
	if priority > 0 {
		if priority > events.MaxPriority {
			return events.MaxPriority
		}
		return priority
	}
	return r.Priority(country, domain.OrderType(orderType))
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}
