package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RoutingKey is the topic pushes are published under.
const RoutingKey = "push.send"

// AMQPGateway publishes pushes to a topic exchange for a separate delivery
// worker to consume.
type AMQPGateway struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// DialAMQP connects to url and declares exchange, retrying with
// exponential backoff for up to maxWait.
func DialAMQP(url, exchange string, maxWait time.Duration, logger *zap.Logger) (*AMQPGateway, error) {
	if url == "" {
		return nil, fmt.Errorf("empty amqp url")
	}
	if exchange == "" {
		exchange = "campus.push"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait

	var conn *amqp.Connection
	err := backoff.RetryNotify(func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}, policy, func(err error, next time.Duration) {
		logger.Warn("amqp dial failed, retrying", zap.Error(err), zap.Duration("next", next))
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	logger.Info("amqp push gateway connected", zap.String("exchange", exchange))
	return &AMQPGateway{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

func (g *AMQPGateway) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return g.ch.PublishWithContext(ctx, g.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (g *AMQPGateway) Name() string { return "amqp" }

func (g *AMQPGateway) Close() error {
	if g.ch != nil {
		_ = g.ch.Close()
	}
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
