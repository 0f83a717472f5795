// Package producttest provides in-memory product store, cache and event
// publisher implementations for tests.
package producttest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ogozo/service-product/internal/broker"
	"github.com/ogozo/service-product/internal/product"
)

type Store struct {
	mu     sync.Mutex
	items  map[int64]product.Product
	nextID int64

	Gets       int
	Decrements int
	Err        error
}

func NewStore() *Store {
	return &Store{items: make(map[int64]product.Product)}
}

// Seed stores p as is, replacing any record with the same id.
func (s *Store) Seed(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ID] = p
	if p.ID > s.nextID {
		s.nextID = p.ID
	}
}

func (s *Store) Qty(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Qty
}

func (s *Store) CreateProduct(ctx context.Context, p *product.Product) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = time.Now().UTC()
	s.items[p.ID] = *p
	return p, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.items[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (s *Store) DecrementStock(ctx context.Context, id, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Decrements++
	if s.Err != nil {
		return false, s.Err
	}
	p, ok := s.items[id]
	if !ok || p.Qty < amount {
		return false, nil
	}
	p.Qty -= amount
	s.items[id] = p
	return true, nil
}

type cacheEntry struct {
	raw     []byte
	expires time.Time
}

// Cache stores JSON encoded values with expiry against an adjustable clock.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheEntry
	now   time.Time

	Gets    int
	Sets    int
	Deletes int

	GetErr    error
	SetErr    error
	DeleteErr error
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheEntry), now: time.Unix(0, 0)}
}

func (c *Cache) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	return ok && c.now.Before(e.expires)
}

func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	if c.GetErr != nil {
		return false, c.GetErr
	}
	e, ok := c.items[key]
	if !ok || !c.now.Before(e.expires) {
		return false, nil
	}
	return true, json.Unmarshal(e.raw, dst)
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sets++
	if c.SetErr != nil {
		return c.SetErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = cacheEntry{raw: raw, expires: c.now.Add(ttl)}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes++
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	delete(c.items, key)
	return nil
}

type Events struct {
	mu      sync.Mutex
	Results []broker.StockUpdateResultEvent
	Created []broker.ProductCreatedEvent
	Err     error
}

func (e *Events) PublishStockUpdateResult(ctx context.Context, event broker.StockUpdateResultEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Results = append(e.Results, event)
	return e.Err
}

func (e *Events) PublishProductCreated(ctx context.Context, event broker.ProductCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Created = append(e.Created, event)
	return e.Err
}
