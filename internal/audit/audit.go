// Package audit publishes security-relevant protocol events (client
// registration, code issuance, token exchange) to a RabbitMQ exchange so
// downstream consumers can build an audit trail without coupling to the
// authorization server's store.
package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Event names emitted by the OAuth2 services.
const (
	EventClientCreated  = "oauth2.client.created"
	EventClientDeleted  = "oauth2.client.deleted"
	EventCodeIssued     = "oauth2.code.issued"
	EventTokenIssued    = "oauth2.token.issued"
	EventTokenRefreshed = "oauth2.token.refreshed"
)

// Event is the wire shape published to the exchange.
type Event struct {
	Event   string         `json:"event"`
	ActorID int64          `json:"actor_id"`
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher emits audit events. A nil *Publisher is valid and drops every
// event, so callers never need to guard the disabled case.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish emits one event with the event name as routing key. Failures are
// logged and swallowed: an audit outage must not fail the protocol operation
// that triggered it.
func (p *Publisher) Publish(ctx context.Context, event string, actorID int64, detail map[string]any) {
	if p == nil {
		return
	}

	body, err := json.Marshal(Event{
		Event:   event,
		ActorID: actorID,
		Detail:  detail,
		At:      time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("audit event marshal failed", zap.String("event", event), zap.Error(err))
		return
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, event, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.logger.Warn("audit event publish failed", zap.String("event", event), zap.Error(err))
	}
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	_ = p.ch.Close()
	_ = p.conn.Close()
}
