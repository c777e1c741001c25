package notify

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"intraday/internal/errors"
	"intraday/pkg/exception"
)

const DefaultExchange = "intraday.notifications"

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes events as JSON to a fanout exchange.
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger

	mu sync.Mutex
	ch channel
}

// DialAMQP connects, declares the fanout exchange and returns a publisher.
func DialAMQP(url, exchange string, log zerolog.Logger) (*AMQP, error) {
	if url == "" {
		return nil, errors.Wrap(exception.ErrConfig, "amqp url is required")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	log.Info().Str("exchange", exchange).Msg("rabbitmq notifier connected")
	return &AMQP{conn: conn, exchange: exchange, log: log, ch: ch}, nil
}

func newAMQP(ch channel, exchange string, log zerolog.Logger) *AMQP {
	return &AMQP{exchange: exchange, log: log, ch: ch}
}

// Notify publishes one event.
func (a *AMQP) Notify(ctx context.Context, ev Event) error {
	body, err := sonic.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch == nil {
		return exception.ErrConnectionClose
	}
	err = a.ch.PublishWithContext(ctx, a.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.Ts,
		Type:         string(ev.Kind),
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", ev.Kind)
	}
	return nil
}

// Close releases the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.ch != nil {
		err = a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		if cerr := a.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.conn = nil
	}
	return err
}
