package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

const maxDialDelay = 60 * time.Second

type publishFunc func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error

type Publisher struct {
	exchange string
	producer string
	publish  publishFunc
	closeFn  func() error
	logger   *zap.Logger
	now      func() time.Time
}

type DialOptions struct {
	URL           string
	Exchange      string
	Producer      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *zap.Logger
}

// Dial connects with exponential backoff, declares the topic exchange and
// returns a publisher that opens a channel per message.
func Dial(ctx context.Context, opts DialOptions) (*Publisher, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", opts.Exchange, err)
	}

	publish := func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	}
	return newPublisher(opts.Exchange, opts.Producer, publish, conn.Close, opts.Logger), nil
}

func dialWithRetry(ctx context.Context, opts DialOptions) (*amqp091.Connection, error) {
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("amqp connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		opts.Logger.Warn("amqp dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to AMQP broker after %d attempts: %w", opts.RetryAttempts, lastErr)
}

func newPublisher(exchange, producer string, publish publishFunc, closeFn func() error, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		exchange: exchange,
		producer: producer,
		publish:  publish,
		closeFn:  closeFn,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify publishes note with its event type as routing key.
func (p *Publisher) Notify(ctx context.Context, note domain.Notification) error {
	env := NewEnvelope(note, p.producer, p.now())
	return p.Publish(ctx, env.Meta.Type, env)
}

func (p *Publisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", key, err)
	}
	msgID := env.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := ""
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}

	err = p.publish(ctx, p.exchange, key, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: cid,
		Timestamp:     p.now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s to %s: %w", key, p.exchange, err)
	}
	p.logger.Info("event published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

func (p *Publisher) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}
