package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ogozo/service-product/internal/logging"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// kafkaHeaderCarrier adapts Kafka record headers to the otel TextMapCarrier.
type kafkaHeaderCarrier []kafka.Header

func (c *kafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *kafkaHeaderCarrier) Set(key, val string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(val)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(val)})
}

func (c *kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// KafkaBroker is the Kafka transport. Topics are named after the patterns and
// records are keyed by product id so one product stays on one partition.
type KafkaBroker struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	tracer  trace.Tracer
}

func NewKafkaBroker(brokers []string, groupID string) *KafkaBroker {
	return &KafkaBroker{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		tracer: otel.Tracer("service-product.broker.kafka"),
	}
}

func (k *KafkaBroker) PublishStockUpdateTask(ctx context.Context, task StockUpdateTask) error {
	return k.publish(ctx, PatternStockUpdateTask, task.ProductID, task)
}

func (k *KafkaBroker) PublishStockUpdateResult(ctx context.Context, event StockUpdateResultEvent) error {
	return k.publish(ctx, PatternStockUpdateResult, event.ProductID, event)
}

func (k *KafkaBroker) PublishProductCreated(ctx context.Context, event ProductCreatedEvent) error {
	return k.publish(ctx, PatternProductCreated, event.ID, event)
}

func (k *KafkaBroker) publish(ctx context.Context, topic string, productID int64, payload any) error {
	spanCtx, span := k.tracer.Start(ctx, topic+" publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
		),
	)
	defer span.End()

	body, err := encode(topic, payload)
	if err != nil {
		return err
	}

	var headers kafkaHeaderCarrier
	otel.GetTextMapPropagator().Inject(spanCtx, &headers)

	err = k.writer.WriteMessages(spanCtx, kafka.Message{
		Topic:   topic,
		Key:     []byte(strconv.FormatInt(productID, 10)),
		Value:   body,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaBroker) ConsumeOrderCreated(ctx context.Context, workers int, handler OrderCreatedHandler) error {
	return k.consume(ctx, PatternOrderCreated, workers, orderCreatedBody(handler))
}

func (k *KafkaBroker) ConsumeStockUpdateTasks(ctx context.Context, workers int, handler StockUpdateTaskHandler) error {
	return k.consume(ctx, PatternStockUpdateTask, workers, stockUpdateTaskBody(handler))
}

// consume starts one group reader per worker slot. An offset is committed only
// after its message was handled or rejected as malformed.
func (k *KafkaBroker) consume(ctx context.Context, topic string, workers int, handle func(context.Context, []byte) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  k.brokers,
			GroupID:  k.groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		g.Go(func() error {
			defer reader.Close()
			return k.readLoop(gctx, reader, topic, handle)
		})
	}
	logging.Info(ctx, "listening for messages", zap.String("topic", topic), zap.Int("workers", workers))
	err := g.Wait()
	logging.Info(ctx, "consumer stopped", zap.String("topic", topic))
	return err
}

func (k *KafkaBroker) readLoop(ctx context.Context, reader *kafka.Reader, topic string, handle func(context.Context, []byte) error) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Error(ctx, "could not fetch message, retrying", err, zap.String("topic", topic))
			sleepCtx(ctx, time.Second)
			continue
		}
		if !k.deliver(ctx, topic, msg, handle) {
			// Shutdown interrupted retries; the uncommitted offset is redelivered to the group.
			return nil
		}
		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			logging.Error(ctx, "failed to commit message", err, zap.String("topic", topic), zap.Int64("offset", msg.Offset))
		}
	}
}

// deliver retries transient handler failures until the message settles or ctx
// is cancelled. It reports whether the message may be committed.
func (k *KafkaBroker) deliver(ctx context.Context, topic string, msg kafka.Message, handle func(context.Context, []byte) error) bool {
	headers := kafkaHeaderCarrier(msg.Headers)
	parentCtx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(ctx), &headers)

	for {
		spanCtx, span := k.tracer.Start(parentCtx, topic+" receive", trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				semconv.MessagingSystemKafka,
				semconv.MessagingDestinationName(topic),
			),
		)
		err := handle(spanCtx, msg.Value)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to handle message")
		}
		ok := settled(spanCtx, topic, err)
		span.End()
		if ok {
			return true
		}
		sleepCtx(ctx, retryDelay)
		if ctx.Err() != nil {
			return false
		}
	}
}

func (k *KafkaBroker) Close() error {
	return k.writer.Close()
}
