package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// NATSClient publishes change records and account notifications over NATS.
// It implements both Broker and Sink.
type NATSClient struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSClient connects to NATS. Notifications go to <subjectPrefix>.<account id>.
func NewNATSClient(url, subjectPrefix string, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("ledger-service"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{conn: conn, subjectPrefix: subjectPrefix}, nil
}

// Publish sends event on the subject named by routingKey.
// The record id doubles as the message id so JetStream consumers can deduplicate.
func (c *NATSClient) Publish(_ context.Context, routingKey string, event *domain.OutboxEvent) error {
	msg := nats.NewMsg(routingKey)
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	msg.Header.Set("Event-Type", event.EventType)
	msg.Data = event.Payload

	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Notify publishes an AccountChanged message for accountID.
func (c *NATSClient) Notify(_ context.Context, accountID string, transfer *domain.Transfer) error {
	data, err := accountChangedPayload(accountID, transfer)
	if err != nil {
		return err
	}

	if err := c.conn.Publish(c.subjectPrefix+"."+accountID, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}
