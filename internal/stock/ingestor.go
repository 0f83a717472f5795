package stock

import (
	"context"

	"github.com/ogozo/service-product/internal/broker"
	"github.com/ogozo/service-product/internal/logging"
	"github.com/ogozo/service-product/internal/metrics"
	"go.uber.org/zap"
)

// Ingestor folds order created events into the buffer.
//
// Redelivered events are folded again: the events carry no id to deduplicate on.
type Ingestor struct {
	buf     *Buffer
	metrics *metrics.Metrics
}

func NewIngestor(buf *Buffer, m *metrics.Metrics) *Ingestor {
	return &Ingestor{buf: buf, metrics: m}
}

// HandleOrderCreated never fails: a malformed event is dropped so the
// transport acknowledges it.
func (i *Ingestor) HandleOrderCreated(ctx context.Context, event broker.OrderCreatedEvent) error {
	if !i.buf.Fold(event.ProductID, event.Qty) {
		i.metrics.OrdersDiscarded.Inc()
		logging.Warn(ctx, "discarding invalid or overflowing OrderCreated event",
			zap.Int64("product_id", event.ProductID), zap.Int64("qty", event.Qty))
		return nil
	}
	i.metrics.OrdersFolded.Inc()
	i.metrics.BufferPending.Set(float64(i.buf.Len()))
	logging.Debug(ctx, "order folded into stock buffer",
		zap.Int64("product_id", event.ProductID), zap.Int64("qty", event.Qty))
	return nil
}
