package messaging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vladislavdragonenkov/streamflow/internal/messaging"

// Traced оборачивает обработчик в span потребителя. Correlation id саги
// попадает в атрибуты, что позволяет собрать сквозной trace по заказу.
// Если tracer не задан, используется глобальный provider.
func Traced(tracer trace.Tracer, handler Handler) Handler {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(ctx context.Context, msg Message) error {
		ctx, span := tracer.Start(ctx, "consume "+string(msg.Type),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.destination", msg.Queue),
				attribute.String("messaging.message.id", msg.ID),
				attribute.String("message.type", string(msg.Type)),
				attribute.String("correlation.id", msg.CorrelationID),
				attribute.Int("messaging.attempt", msg.Attempt),
			),
		)
		defer span.End()

		err := handler(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
