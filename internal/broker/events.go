package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	PatternOrderCreated      = "order_created"
	PatternStockUpdateTask   = "stock_update_task"
	PatternStockUpdateResult = "stock_update_result"
	PatternProductCreated    = "product_created"
)

// ErrMalformed marks a message that can never be processed. Consumers
// acknowledge and drop it instead of asking for redelivery.
var ErrMalformed = errors.New("malformed message")

type OrderCreatedEvent struct {
	ProductID int64 `json:"productId"`
	Qty       int64 `json:"qty"`
}

func (e OrderCreatedEvent) Valid() bool {
	return e.ProductID > 0 && e.Qty > 0
}

// StockUpdateTask carries the coalesced reduction of one product for one flush cycle.
type StockUpdateTask struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

func (t StockUpdateTask) Valid() bool {
	return t.ProductID > 0 && t.Quantity > 0
}

type StockUpdateResultEvent struct {
	ProductID int64  `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

type ProductCreatedEvent struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Qty       int64     `json:"qty"`
	CreatedAt time.Time `json:"createdAt"`
}

// envelope is the pattern/data frame the ordering subsystem wraps its events in.
type envelope struct {
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func encode(pattern string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", pattern, err)
	}
	return json.Marshal(envelope{Pattern: pattern, Data: data})
}

// decode accepts either an enveloped message or a bare payload.
func decode(body []byte, dst any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload := body
	if len(env.Data) > 0 {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func decodeOrderCreated(body []byte) (OrderCreatedEvent, error) {
	var ev OrderCreatedEvent
	err := decode(body, &ev)
	return ev, err
}

func decodeStockUpdateTask(body []byte) (StockUpdateTask, error) {
	var task StockUpdateTask
	err := decode(body, &task)
	return task, err
}
