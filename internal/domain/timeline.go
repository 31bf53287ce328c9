package domain

import "time"

// TimelineEvent: запись истории статусов заказа для read-only запросов трекинга.
type TimelineEvent struct {
	OrderID  string
	State    OrderState
	Reason   string
	Occurred time.Time
}
