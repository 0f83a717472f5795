package broker

import (
	"context"
	"errors"
	"time"

	"github.com/ogozo/service-product/internal/logging"
	"go.uber.org/zap"
)

type OrderCreatedHandler func(ctx context.Context, event OrderCreatedEvent) error

type StockUpdateTaskHandler func(ctx context.Context, task StockUpdateTask) error

// Transport is the at-least-once, topic routed delivery fabric. Consume calls
// block until ctx is cancelled and in-flight handlers have returned.
type Transport interface {
	PublishStockUpdateTask(ctx context.Context, task StockUpdateTask) error
	PublishStockUpdateResult(ctx context.Context, event StockUpdateResultEvent) error
	PublishProductCreated(ctx context.Context, event ProductCreatedEvent) error
	ConsumeOrderCreated(ctx context.Context, workers int, handler OrderCreatedHandler) error
	ConsumeStockUpdateTasks(ctx context.Context, workers int, handler StockUpdateTaskHandler) error
	Close() error
}

var (
	_ Transport = (*Broker)(nil)
	_ Transport = (*KafkaBroker)(nil)
)

// retryDelay throttles redelivery of messages whose handler failed transiently.
var retryDelay = 500 * time.Millisecond

func orderCreatedBody(handler OrderCreatedHandler) func(context.Context, []byte) error {
	return func(ctx context.Context, body []byte) error {
		ev, err := decodeOrderCreated(body)
		if err != nil {
			return err
		}
		return handler(ctx, ev)
	}
}

func stockUpdateTaskBody(handler StockUpdateTaskHandler) func(context.Context, []byte) error {
	return func(ctx context.Context, body []byte) error {
		task, err := decodeStockUpdateTask(body)
		if err != nil {
			return err
		}
		return handler(ctx, task)
	}
}

// settled reports whether a handler outcome allows the message to be acknowledged.
func settled(ctx context.Context, topic string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMalformed):
		logging.Warn(ctx, "dropping malformed message", zap.String("topic", topic), zap.Error(err))
		return true
	default:
		logging.Error(ctx, "message handling failed, requesting redelivery", err, zap.String("topic", topic))
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
