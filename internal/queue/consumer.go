package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/ticket-gate/internal/model"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	prefetch   = 50
	retryDelay = 2 * time.Second
)

var errBadMessage = errors.New("bad message")

// SaleFinalizedHandler processes one sale.finalized message.
type SaleFinalizedHandler interface {
	HandleSaleFinalized(ctx context.Context, ev SaleFinalizedEvent) error
}

// Consumer drains the sale.finalized queue.
type Consumer struct {
	url        string
	handler    SaleFinalizedHandler
	logger     zerolog.Logger
	retryDelay time.Duration
}

// NewConsumer returns a consumer that passes every message to handler.
func NewConsumer(url string, handler SaleFinalizedHandler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		url:        url,
		handler:    handler,
		logger:     logger.With().Str("component", "consumer").Str("queue", SaleFinalizedQueue).Logger(),
		retryDelay: retryDelay,
	}
}

// Run connects to the broker and consumes until ctx is cancelled.  Lost
// connections are re-dialled with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = minBackoff

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Msg("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.logger.Warn().Err(err).Msg("set QoS failed")
	}
	if _, err := ch.QueueDeclare(SaleFinalizedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(SaleFinalizedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info().Msg("consuming")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// deliver handles one delivery and settles it.  Undecodable bodies and
// domain rejections are dropped; anything else is requeued after a delay.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.handleMessage(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if !retryable(err) {
		c.logger.Error().Err(err).Msg("handle message failed, dropping")
		_ = d.Nack(false, false)
		return
	}
	c.logger.Warn().Err(err).Msg("handle message failed, requeueing")
	sleep(ctx, c.retryDelay)
	_ = d.Nack(false, true)
}

// retryable reports whether err, or any error joined into it, is not a
// domain rejection.  Issuance is idempotent, so a retry re-mints nothing.
func retryable(err error) bool {
	if errors.Is(err, errBadMessage) {
		return false
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if retryable(e) {
				return true
			}
		}
		return false
	}
	return model.Code(err) == "INTERNAL"
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev SaleFinalizedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", errBadMessage, err)
	}
	if ev.SaleID == "" {
		return fmt.Errorf("%w: sale_id missing", errBadMessage)
	}
	if err := c.handler.HandleSaleFinalized(ctx, ev); err != nil {
		return fmt.Errorf("sale %s: %w", ev.SaleID, err)
	}
	c.logger.Debug().Str("sale_id", ev.SaleID).Int("tickets", len(ev.TicketIDs)).Msg("credentials issued")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
