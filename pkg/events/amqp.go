package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Config holds the broker settings. An empty URL disables publishing.
type Config struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"entitlements.events"`
}

// AMQPPublisher publishes JSON messages to a durable topic exchange. A closed
// channel is reopened on the next Publish.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(cfg Config, log *slog.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
		return nil, ErrInvalidURL
	}
	if log == nil {
		log = slog.Default()
	}

	p := &AMQPPublisher{url: u.String(), exchange: cfg.Exchange, log: log}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with mu held.
func (p *AMQPPublisher) connect() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return errors.Join(ErrFailedToConnect, err)
		}
		p.conn = conn
		p.ch = nil
	}
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return errors.Join(ErrFailedToConnect, err)
		}
		if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return errors.Join(ErrFailedToConnect, fmt.Errorf("declare exchange %q: %w", p.exchange, err))
		}
		p.ch = ch
	}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return errors.Join(ErrFailedToPublish, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if err := p.connect(); err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return errors.Join(ErrFailedToPublish, err)
	}

	p.log.DebugContext(ctx, "published event",
		slog.String("exchange", p.exchange),
		slog.String("routing_key", msg.RoutingKey),
		logger.EventID(msg.ID))
	return nil
}

// Close closes the channel and connection. Further Publish calls fail.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
