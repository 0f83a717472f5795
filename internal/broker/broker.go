package broker

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type TraceCarrier map[string]interface{}

func (c TraceCarrier) Get(key string) string {
	if val, ok := c[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (c TraceCarrier) Set(key, val string) {
	c[key] = val
}

func (c TraceCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

const (
	ordersExchange = "orders_exchange"
	stockExchange  = "stock_exchange"
)

// route ties a pattern to the exchange it is published on and, for consumed
// patterns, the durable queue bound to it.
type route struct {
	exchange string
	key      string
	queue    string
}

var (
	orderCreatedRoute      = route{exchange: ordersExchange, key: PatternOrderCreated, queue: "product_service_order_created_queue"}
	stockUpdateTaskRoute   = route{exchange: stockExchange, key: PatternStockUpdateTask, queue: "stock_update_queue"}
	stockUpdateResultRoute = route{exchange: stockExchange, key: PatternStockUpdateResult}
	productCreatedRoute    = route{exchange: ordersExchange, key: PatternProductCreated}
)

// Broker is the RabbitMQ transport. Publishes share one channel; every consumer
// opens its own channel so prefetch limits apply per queue.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pubMu   sync.Mutex
	tracer  trace.Tracer
}

func NewBroker(amqpURL string) (*Broker, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	b := &Broker{conn: conn, channel: channel, tracer: otel.Tracer("service-product.broker")}
	if err := b.declareExchanges(channel); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declareExchanges(ch *amqp.Channel) error {
	for _, name := range []string{ordersExchange, stockExchange} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

func (b *Broker) Close() error {
	var err error
	if b.channel != nil {
		err = b.channel.Close()
	}
	if b.conn != nil {
		if cerr := b.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
