package stock

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ogozo/service-product/internal/broker"
	"github.com/ogozo/service-product/internal/logging"
	"github.com/ogozo/service-product/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type TaskPublisher interface {
	PublishStockUpdateTask(ctx context.Context, task broker.StockUpdateTask) error
}

// finalFlushTimeout bounds the flush performed when Run is cancelled.
const finalFlushTimeout = 5 * time.Second

// Flusher drains the Buffer on every trigger tick and publishes one
// StockUpdateTask per product. Flush cycles never overlap.
type Flusher struct {
	buf     *Buffer
	pub     TaskPublisher
	trigger Trigger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	running sync.Mutex
}

func NewFlusher(buf *Buffer, pub TaskPublisher, trigger Trigger, m *metrics.Metrics) *Flusher {
	return &Flusher{
		buf:     buf,
		pub:     pub,
		trigger: trigger,
		metrics: m,
		tracer:  otel.Tracer("service-product.stock"),
	}
}

// Run flushes on every tick until ctx is cancelled, then flushes once more so
// reductions folded before shutdown are not dropped.
func (f *Flusher) Run(ctx context.Context) error {
	defer f.trigger.Stop()
	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(flushCtx, finalFlushTimeout)
			n := f.Flush(finalCtx)
			cancel()
			logging.Info(ctx, "stock flusher stopped", zap.Int("final_tasks", n))
			return nil
		case <-f.trigger.Ticks():
			f.Flush(flushCtx)
		}
	}
}

// Flush runs one flush cycle and returns how many tasks were published. It is
// a no-op returning 0 when the buffer is empty or another cycle is in progress.
// A task whose publish fails is dropped, not re-buffered.
func (f *Flusher) Flush(ctx context.Context) int {
	if !f.running.TryLock() {
		logging.Debug(ctx, "flush already in progress, skipping tick")
		return 0
	}
	defer f.running.Unlock()

	pending := f.buf.DrainAll()
	f.metrics.BufferPending.Set(float64(f.buf.Len()))
	if len(pending) == 0 {
		return 0
	}
	f.metrics.FlushCycles.Inc()

	ctx, span := f.tracer.Start(ctx, "stock flush", trace.WithAttributes(attribute.Int("stock.products", len(pending))))
	defer span.End()

	published := 0
	for _, id := range slices.Sorted(maps.Keys(pending)) {
		task := broker.StockUpdateTask{ProductID: id, Quantity: pending[id]}
		if err := f.pub.PublishStockUpdateTask(ctx, task); err != nil {
			f.metrics.TasksPublishFailed.Inc()
			logging.Error(ctx, "failed to publish stock update task, reduction lost", err,
				zap.Int64("product_id", task.ProductID), zap.Int64("quantity", task.Quantity))
			continue
		}
		f.metrics.TasksPublished.Inc()
		published++
	}
	logging.Info(ctx, "stock buffer flushed", zap.Int("products", len(pending)), zap.Int("published", published))
	return published
}
