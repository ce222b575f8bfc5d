// Package notify announces local writes to other devices and services over
// RabbitMQ, and turns their announcements into change signals for the sync
// engine.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Actions carried by a [ChangeMessage].
const (
	ActionUpsert     = "upsert"
	ActionDeactivate = "deactivate"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	origin     string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	// QueueName, when set, names a durable queue bound to the exchange for a
	// consumer outside this process (e.g. the backend's ingest worker), so
	// announcements survive while it is offline. Instances of this program
	// never read it: Watch uses a private queue. Empty declares nothing.
	QueueName string
}

// topology is the part of *amqp.Channel that declares exchanges and queues.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declare declares the durable direct exchange and, if cfg.QueueName is set,
// the durable queue for external consumers.
func declare(ch topology, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if cfg.QueueName == "" {
		return nil
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// NewRabbitMQ connects and declares the exchange (and the optional durable
// queue, see [Config.QueueName]).
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		origin:     uuid.NewString(),
		logger:     logger,
	}, nil
}

// ChangeMessage announces that one record changed.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Origin     string    `json:"origin"`
	Timestamp  time.Time `json:"timestamp"`
}

// Announce publishes a ChangeMessage for the record id in collection.
func (r *RabbitMQ) Announce(ctx context.Context, collection, id, action string) error {
	msg := ChangeMessage{
		Collection: collection,
		ID:         id,
		Action:     action,
		Origin:     r.origin,
		Timestamp:  time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("announced change",
		"collection", collection,
		"id", id,
		"action", action,
	)
	return nil
}

// Watch binds a private, auto-deleted queue to the exchange and calls
// onChange with the collection of every announcement made by another
// instance. It blocks until ctx is done or the delivery channel closes.
func (r *RabbitMQ) Watch(ctx context.Context, onChange func(collection string)) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare private queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, r.routingKey, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind private queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			r.dispatch(d.Body, onChange)
		}
	}
}

func (r *RabbitMQ) dispatch(body []byte, onChange func(collection string)) {
	var msg ChangeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		r.logger.Warn("dropping malformed change message", "error", err)
		return
	}
	if msg.Origin == r.origin || msg.Collection == "" {
		return
	}
	r.logger.Debug("change announced",
		"collection", msg.Collection,
		"id", msg.ID,
		"action", msg.Action,
	)
	onChange(msg.Collection)
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
