package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "product"

const (
	ResultApplied      = "applied"
	ResultInsufficient = "insufficient"
	ResultError        = "error"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Metrics groups the collectors of the stock reconciliation pipeline.
type Metrics struct {
	OrdersFolded        prometheus.Counter
	OrdersDiscarded     prometheus.Counter
	BufferPending       prometheus.Gauge
	FlushCycles         prometheus.Counter
	TasksPublished      prometheus.Counter
	TasksPublishFailed  prometheus.Counter
	StockDecrements     *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	StockApplyDurations prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersFolded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_folded_total",
			Help: "Order created events folded into the reduction buffer.",
		}),
		OrdersDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_discarded_total",
			Help: "Malformed order created events acknowledged and dropped.",
		}),
		BufferPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "buffer_pending_products",
			Help: "Products with a pending reduction awaiting the next flush.",
		}),
		FlushCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_cycles_total",
			Help: "Flush cycles that drained a non-empty buffer.",
		}),
		TasksPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_tasks_published_total",
			Help: "Stock update tasks published to the transport.",
		}),
		TasksPublishFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_tasks_publish_failed_total",
			Help: "Stock update tasks lost because publishing failed.",
		}),
		StockDecrements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_decrements_total",
			Help: "Conditional stock decrements by outcome.",
		}, []string{"result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Product cache lookups by outcome.",
		}, []string{"result"}),
		StockApplyDurations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stock_apply_duration_seconds",
			Help:    "Time spent applying one stock update task.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Serve exposes the gatherer on /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
