package outbox

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// AccountRoutingPrefix prefixes the routing key of account notifications.
const AccountRoutingPrefix = "ledger.account."

// AMQPBroker publishes change records and account notifications to a RabbitMQ
// topic exchange. It implements both Broker and Sink.
type AMQPBroker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPBroker connects to RabbitMQ and declares the exchange.
func NewAMQPBroker(url, exchange string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange (topic exchange for routing)
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

	return &AMQPBroker{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

// Publish sends event as a persistent JSON message.
func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, event *domain.OutboxEvent) error {
	return b.publish(ctx, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.CreatedAt,
		Type:         event.EventType,
		Body:         event.Payload,
	})
}

// Notify publishes a transient AccountChanged message routed to
// ledger.account.<account id>.
func (b *AMQPBroker) Notify(ctx context.Context, accountID string, transfer *domain.Transfer) error {
	data, err := accountChangedPayload(accountID, transfer)
	if err != nil {
		return err
	}
	return b.publish(ctx, AccountRoutingPrefix+accountID, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Type:         "AccountChanged",
		Body:         data,
	})
}

func (b *AMQPBroker) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.channel.PublishWithContext(ctx,
		b.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (b *AMQPBroker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
