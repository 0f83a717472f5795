package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
)

func (b *Broker) PublishStockUpdateTask(ctx context.Context, task StockUpdateTask) error {
	return b.publish(ctx, stockUpdateTaskRoute, task)
}

func (b *Broker) PublishStockUpdateResult(ctx context.Context, event StockUpdateResultEvent) error {
	return b.publish(ctx, stockUpdateResultRoute, event)
}

func (b *Broker) PublishProductCreated(ctx context.Context, event ProductCreatedEvent) error {
	return b.publish(ctx, productCreatedRoute, event)
}

func (b *Broker) publish(ctx context.Context, r route, payload any) error {
	spanCtx, span := b.tracer.Start(ctx, r.key+" publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingDestinationName(r.exchange),
		),
	)
	defer span.End()

	body, err := encode(r.key, payload)
	if err != nil {
		return err
	}

	headers := make(TraceCarrier)
	otel.GetTextMapPropagator().Inject(spanCtx, headers)

	b.pubMu.Lock()
	err = b.channel.Publish(r.exchange, r.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
		Headers:      amqp.Table(headers),
	})
	b.pubMu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		return fmt.Errorf("failed to publish %s: %w", r.key, err)
	}
	return nil
}
