package domain

import "time"

// ExceptionInfo: одно звено цепочки ошибок.
type ExceptionInfo struct {
	Type    string
	Message string
}

// FaultRecord фиксирует сообщение, исчерпавшее повторные доставки.
// Пишется один раз и больше не изменяется.
type FaultRecord struct {
	ID            string
	MessageType   string
	Queue         string
	OrderID       string
	CorrelationID string
	Payload       []byte
	Exceptions    []ExceptionInfo
	Attempts      int
	OccurredAt    time.Time
}
