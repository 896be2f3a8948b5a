package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rabbitmq/amqp091-go"

	"github.com/poundifdef/queuecheck/models"
)

const defaultDialTimeout = 5 * time.Second

type Config struct {
	URL      string
	Username string
	Password string
}

// AMQPBroker counts queues on an AMQP 0-9-1 broker with a passive queue
// declare, which reports the ready message count without touching messages.
type AMQPBroker struct {
	cfg Config
}

// connection and channel are the parts of *amqp091.Connection and
// *amqp091.Channel a session uses.
type connection interface {
	IsClosed() bool
	Close() error
}

type channel interface {
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	IsClosed() bool
	Close() error
}

type AMQPSession struct {
	conn connection
	ch   channel
}

func NewAMQPBroker(cfg Config) *AMQPBroker {
	return &AMQPBroker{cfg: cfg}
}

func (b *AMQPBroker) Connect(ctx context.Context) (models.Session, error) {
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, fmt.Errorf("connect to %s: %w", redact(b.cfg.URL), context.DeadlineExceeded)
		}
	}

	amqpCfg := amqp091.Config{
		Dial:       amqp091.DefaultDial(timeout),
		Properties: amqp091.NewConnectionProperties(),
	}
	amqpCfg.Properties.SetClientConnectionName("queuecheck")

	if b.cfg.Username != "" {
		amqpCfg.SASL = []amqp091.Authentication{
			&amqp091.PlainAuth{Username: b.cfg.Username, Password: b.cfg.Password},
		}
	}

	conn, err := call(ctx, nil, func() (*amqp091.Connection, error) {
		return amqp091.DialConfig(b.cfg.URL, amqpCfg)
	}, closeLate[*amqp091.Connection])
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", redact(b.cfg.URL), err)
	}

	ch, err := call(ctx, conn, conn.Channel, closeLate[*amqp091.Channel])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	log.Debug().Str("url", redact(b.cfg.URL)).Msg("Connected to AMQP broker")

	return &AMQPSession{conn: conn, ch: ch}, nil
}

func (s *AMQPSession) Count(ctx context.Context, queue string) (int, error) {
	q, err := call(ctx, s.conn, func() (amqp091.Queue, error) {
		return s.ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	}, nil)
	if err != nil {
		var amqpErr *amqp091.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp091.NotFound {
			return 0, fmt.Errorf("%w: %s", models.ErrQueueNotFound, queue)
		}
		return 0, err
	}

	return q.Messages, nil
}

// Close releases the channel, then the connection. A channel the broker has
// already closed (for example after a failed passive declare) is not an error.
func (s *AMQPSession) Close() error {
	var chErr, connErr error
	if s.ch != nil && !s.ch.IsClosed() {
		chErr = s.ch.Close()
	}
	if s.conn != nil && !s.conn.IsClosed() {
		connErr = s.conn.Close()
	}

	if errors.Is(chErr, amqp091.ErrClosed) {
		chErr = nil
	}
	if errors.Is(connErr, amqp091.ErrClosed) {
		connErr = nil
	}

	return errors.Join(chErr, connErr)
}

// call runs a blocking client call under ctx. amqp091 channel methods take no
// context, so when ctx ends first conn is closed to unblock the call. A value
// fn still produces after that is handed to release, since nobody else will.
func call[T any](ctx context.Context, conn io.Closer, fn func() (T, error), release func(T)) (T, error) {
	type outcome struct {
		v   T
		err error
	}

	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		if conn != nil {
			conn.Close()
		}
		if release != nil {
			go func() {
				if o := <-done; o.err == nil {
					release(o.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func closeLate[T io.Closer](v T) {
	if err := v.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		log.Debug().Err(err).Msg("Unable to close late AMQP resource")
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
