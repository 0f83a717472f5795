package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ogozo/service-product/internal/logging"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (b *Broker) ConsumeOrderCreated(ctx context.Context, workers int, handler OrderCreatedHandler) error {
	return b.consume(ctx, orderCreatedRoute, workers, orderCreatedBody(handler))
}

func (b *Broker) ConsumeStockUpdateTasks(ctx context.Context, workers int, handler StockUpdateTaskHandler) error {
	return b.consume(ctx, stockUpdateTaskRoute, workers, stockUpdateTaskBody(handler))
}

// consume runs one worker goroutine per prefetch slot on a dedicated channel.
// Deliveries are acknowledged manually once the handler has returned.
func (b *Broker) consume(ctx context.Context, r route, workers int, handle func(context.Context, []byte) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on %s: %w", r.queue, err)
	}
	q, err := ch.QueueDeclare(r.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(q.Name, r.key, r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	tag := q.Name + "-" + uuid.NewString()
	msgs, err := ch.Consume(q.Name, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}
	logging.Info(ctx, "listening for messages", zap.String("queue", q.Name), zap.Int("workers", workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-msgs:
					if !ok {
						return fmt.Errorf("delivery channel for %s closed", q.Name)
					}
					b.deliver(gctx, r, d, handle)
				}
			}
		})
	}
	err = g.Wait()
	if cerr := ch.Cancel(tag, false); cerr != nil && err == nil {
		logging.Warn(ctx, "failed to cancel consumer", zap.String("queue", q.Name), zap.Error(cerr))
	}
	logging.Info(ctx, "consumer stopped", zap.String("queue", q.Name))
	return err
}

// deliver handles one message to completion even if ctx is cancelled midway,
// so shutdown never leaves a half-applied message unacknowledged.
func (b *Broker) deliver(ctx context.Context, r route, d amqp.Delivery, handle func(context.Context, []byte) error) {
	carrier := make(TraceCarrier)
	for k, v := range d.Headers {
		carrier[k] = v
	}
	parentCtx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(ctx), carrier)

	spanCtx, span := b.tracer.Start(parentCtx, r.key+" receive", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingDestinationName(r.queue),
		),
	)
	defer span.End()

	err := handle(spanCtx, d.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to handle message")
	}
	if aerr := settle(spanCtx, r.key, d, err); aerr != nil {
		logging.Error(spanCtx, "failed to settle delivery", aerr, zap.String("queue", r.queue))
	}
}

func settle(ctx context.Context, topic string, d amqp.Delivery, handleErr error) error {
	if settled(ctx, topic, handleErr) {
		return d.Ack(false)
	}
	sleepCtx(ctx, retryDelay)
	return d.Nack(false, true)
}
