package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ogozo/service-product/internal/broker"
	"github.com/ogozo/service-product/internal/logging"
	"github.com/ogozo/service-product/internal/metrics"
	"go.uber.org/zap"
)

// Store is the durable product record store.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) (*Product, error)
	GetProductByID(ctx context.Context, id int64) (*Product, error)
	DecrementStock(ctx context.Context, id, amount int64) (bool, error)
}

// Cache is a best-effort keyed store; a miss is (false, nil).
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishStockUpdateResult(ctx context.Context, event broker.StockUpdateResultEvent) error
	PublishProductCreated(ctx context.Context, event broker.ProductCreatedEvent) error
}

type Service struct {
	repo     Store
	cache    Cache
	events   EventPublisher
	metrics  *metrics.Metrics
	cacheTTL time.Duration
}

func NewService(repo Store, cache Cache, events EventPublisher, m *metrics.Metrics, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: cache, events: events, metrics: m, cacheTTL: cacheTTL}
}

func (s *Service) CreateProduct(ctx context.Context, name string, price, qty int64) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || price < 0 || qty < 0 {
		return nil, fmt.Errorf("%w: name is required and price and qty must not be negative", ErrInvalidProduct)
	}

	created, err := s.repo.CreateProduct(ctx, &Product{Name: name, Price: price, Qty: qty})
	if err != nil {
		return nil, err
	}
	logging.Info(ctx, "product created", zap.Int64("product_id", created.ID))

	event := broker.ProductCreatedEvent{
		ID:        created.ID,
		Name:      created.Name,
		Price:     created.Price,
		Qty:       created.Qty,
		CreatedAt: created.CreatedAt,
	}
	if err := s.events.PublishProductCreated(ctx, event); err != nil {
		logging.Error(ctx, "failed to publish ProductCreated event", err, zap.Int64("product_id", created.ID))
	}
	return created, nil
}

// GetProduct serves a product cache-aside. Cache failures count as misses and
// never fail the read.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	key := CacheKey(id)

	var cached Product
	found, err := s.cache.Get(ctx, key, &cached)
	switch {
	case err != nil:
		s.metrics.CacheLookups.WithLabelValues(metrics.ResultError).Inc()
		logging.Warn(ctx, "cache lookup failed, reading from store", zap.String("key", key), zap.Error(err))
	case found:
		s.metrics.CacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return &cached, nil
	default:
		s.metrics.CacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
	}

	p, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, p, s.cacheTTL); err != nil {
		logging.Warn(ctx, "failed to populate cache", zap.String("key", key), zap.Error(err))
	}
	return p, nil
}

// ApplyStockUpdate performs the conditional decrement for one batched task and
// invalidates the cached snapshot when it was applied. Insufficient stock is a
// reported no-op; store failures are returned so the transport redelivers.
// A reader that missed before the decrement may re-cache the old snapshot
// after the Delete; CACHE_TTL bounds how long it stays stale.
func (s *Service) ApplyStockUpdate(ctx context.Context, task broker.StockUpdateTask) error {
	if !task.Valid() {
		return fmt.Errorf("%w: stock update task for product %d with quantity %d", broker.ErrMalformed, task.ProductID, task.Quantity)
	}
	start := time.Now()
	defer func() { s.metrics.StockApplyDurations.Observe(time.Since(start).Seconds()) }()

	fields := []zap.Field{zap.Int64("product_id", task.ProductID), zap.Int64("quantity", task.Quantity)}

	applied, err := s.repo.DecrementStock(ctx, task.ProductID, task.Quantity)
	if err != nil {
		s.metrics.StockDecrements.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	result := broker.StockUpdateResultEvent{ProductID: task.ProductID, Quantity: task.Quantity, Success: applied}
	if applied {
		s.metrics.StockDecrements.WithLabelValues(metrics.ResultApplied).Inc()
		logging.Info(ctx, "stock update SUCCESSFUL", fields...)
		if err := s.cache.Delete(ctx, CacheKey(task.ProductID)); err != nil {
			logging.Warn(ctx, "cache invalidation failed, entry will expire by TTL", append(fields, zap.Error(err))...)
		}
	} else {
		s.metrics.StockDecrements.WithLabelValues(metrics.ResultInsufficient).Inc()
		result.Reason = "insufficient stock"
		logging.Warn(ctx, "stock update REJECTED: insufficient stock", fields...)
	}

	if err := s.events.PublishStockUpdateResult(ctx, result); err != nil {
		logging.Error(ctx, "failed to publish StockUpdateResult event", err, fields...)
	}
	return nil
}
