// Package stock coalesces order created events into per-product reductions
// and emits them as batched stock update tasks on a fixed cadence.
package stock

import (
	"math"
	"sync"
)

// Buffer maps product id to the reduction not yet flushed. Fold and DrainAll
// are mutually exclusive: a fold lands wholly in one drain or the next.
type Buffer struct {
	mu      sync.Mutex
	pending map[int64]int64
}

func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[int64]int64)}
}

// Fold adds qty to the pending reduction of productID. Non-positive ids or
// quantities, and a qty that would overflow the pending sum, are ignored and
// reported as false.
func (b *Buffer) Fold(productID, qty int64) bool {
	if productID <= 0 || qty <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.pending[productID]
	if qty > math.MaxInt64-current {
		return false
	}
	b.pending[productID] = current + qty
	return true
}

// DrainAll returns every pending reduction and leaves the buffer empty.
// It returns nil when nothing is pending.
func (b *Buffer) DrainAll() map[int64]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	drained := b.pending
	b.pending = make(map[int64]int64, len(drained))
	return drained
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) Pending(productID int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[productID]
}
