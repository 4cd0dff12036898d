package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange lifecycle events are published to.
const DefaultExchange = "cambio.operations"

// RabbitPublisher publishes events to a durable topic exchange.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *slog.Logger
}

// NewRabbitPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitPublisher(url, exchange string, logger *slog.Logger) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("notification publisher initialized", "exchange", exchange)

	return &RabbitPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		log:      logger,
	}, nil
}

// Publish sends the event to every routing key it is addressed to.
// At-most-once: no confirms, no retry.
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	for _, key := range event.RoutingKeys() {
		err := p.channel.PublishWithContext(ctx,
			p.exchange, // exchange
			key,        // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish %s to %s: %w", event.Type, key, err)
		}
	}
	return nil
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
