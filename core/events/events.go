// Package events announces orders that reached a terminal status.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type OrderFinalized struct {
	ID                string    `json:"id"`
	BuyOrder          string    `json:"buyOrder"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	AuthorizationCode string    `json:"authorizationCode,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// RoutingKey is the topic an event is published under, e.g. order.authorized.
func (e OrderFinalized) RoutingKey() string {
	return "order." + e.Status
}

type Publisher interface {
	PublishOrderFinalized(ctx context.Context, ev OrderFinalized) error
}

func NewOrderFinalized(buyOrder, status string, amount int64, authCode string) OrderFinalized {
	return OrderFinalized{
		ID:                uuid.NewString(),
		BuyOrder:          buyOrder,
		Status:            status,
		Amount:            amount,
		AuthorizationCode: authCode,
		OccurredAt:        time.Now().UTC(),
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishOrderFinalized(context.Context, OrderFinalized) error { return nil }

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	exchange string
	conn     *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{exchange: exchange, conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) PublishOrderFinalized(ctx context.Context, ev OrderFinalized) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s for order[%s]: %w", ev.RoutingKey(), ev.BuyOrder, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}
