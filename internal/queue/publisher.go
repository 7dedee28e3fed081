package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher sends events to RabbitMQ.  Each publish opens its own
// connection, so a broker outage never leaves a half-open channel behind.
type Publisher struct {
	url    string
	logger zerolog.Logger
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, logger zerolog.Logger) *Publisher {
	return &Publisher{url: url, logger: logger.With().Str("component", "publisher").Logger()}
}

// PublishSaleFinalized sends ev to the sale.finalized queue.
func (p *Publisher) PublishSaleFinalized(ctx context.Context, ev SaleFinalizedEvent) error {
	return p.publish(ctx, SaleFinalizedQueue, ev)
}

// PublishCredentialScanned sends ev to the credential.scanned queue.
func (p *Publisher) PublishCredentialScanned(ctx context.Context, ev CredentialScannedEvent) error {
	return p.publish(ctx, CredentialScannedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queue, err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn().Err(err).Msg("rabbitmq: dial failed")
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.logger.Warn().Err(err).Str("queue", queue).Msg("rabbitmq: publish failed")
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}
