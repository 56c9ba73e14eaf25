package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher publishes room, socket and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// DialAttempts bounds how often NewPublisher tries to reach the broker.
const DialAttempts = 4

type dialFunc func(url string) (*amqp.Connection, error)

// NewPublisher connects to the broker and declares the topic exchange,
// retrying with exponential backoff. It never fails: when AMQP is disabled or
// unreachable the returned publisher drops events.
func NewPublisher(ctx context.Context, amqpURL, exchange string) Publisher {
	return newPublisher(ctx, amqpURL, exchange, amqp.Dial, newDialBackOff)
}

func newDialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.WithMaxRetries(b, DialAttempts-1)
}

func newPublisher(ctx context.Context, amqpURL, exchange string, dial dialFunc, newBackOff func() backoff.BackOff) Publisher {
	if amqpURL == "" {
		log.Info().Str("reason", "empty amqp url").Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: "empty amqp url"}
	}

	var p *amqpPublisher
	attempt := 0
	connect := func() error {
		attempt++
		var err error
		p, err = open(amqpURL, exchange, dial)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("rabbitmq connect failed")
		}
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(newBackOff(), ctx)); err != nil {
		log.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: err.Error()}
	}

	log.Info().Str("exchange", exchange).Int("attempts", attempt).Msg("rabbitmq connected")
	return p
}

func open(amqpURL, exchange string, dial dialFunc) (*amqpPublisher, error) {
	conn, err := dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// durable, not auto-deleted, not internal, wait for the server
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, backoff.Permanent(fmt.Errorf("declare exchange %s: %w", exchange, err))
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        "watchparty-service",
		Headers:      amqpHeaders(headers),
		Body:         body,
	})
	if err != nil {
		log.Error().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.Warn().Err(err).Msg("closing rabbitmq channel")
	}
	return p.conn.Close()
}

func amqpHeaders(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(_ context.Context, routingKey string, _ any, headers map[string]string) error {
	log.Debug().Str("routing_key", routingKey).Str("request_id", headers["x-request-id"]).Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// NoopReason reports why p drops events, or "" when p publishes to a broker.
func NoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
