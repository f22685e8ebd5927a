// Package intake consumes detection records from RabbitMQ and feeds them
// through the same write path as the HTTP API.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"traffic-fines-service/internal/config"
	"traffic-fines-service/internal/detection"
	"traffic-fines-service/internal/domain/violation"
	"traffic-fines-service/internal/service"
)

// Ingester is the write path a delivery is handed to.
type Ingester interface {
	Ingest(ctx context.Context, in detection.Input) (*service.IngestResult, error)
}

// PermanentError marks a delivery that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

const maxBackoff = 30 * time.Second

type Consumer struct {
	cfg    config.AMQPConfig
	ingest Ingester
	log    zerolog.Logger
	tag    string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	done chan struct{}
	wg   sync.WaitGroup
}

func NewConsumer(cfg config.AMQPConfig, ingest Ingester, log zerolog.Logger) *Consumer {
	tag := "fines-" + uuid.NewString()
	return &Consumer{
		cfg:    cfg,
		ingest: ingest,
		log:    log.With().Str("component", "intake").Str("consumer_tag", tag).Logger(),
		tag:    tag,
		done:   make(chan struct{}),
	}
}

// Handle processes one delivery body. Malformed JSON and invalid
// detections are permanent failures; anything else may succeed on retry.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var in detection.Input
	if err := json.Unmarshal(body, &in); err != nil {
		return Permanent(fmt.Errorf("decode detection: %w", err))
	}

	res, err := c.ingest.Ingest(ctx, in)
	if err != nil {
		if errors.Is(err, violation.ErrInvalidDetection) || errors.Is(err, violation.ErrIssuance) {
			return Permanent(err)
		}
		return err
	}

	c.log.Debug().
		Int("index", res.Index).
		Str("image", in.ImageID).
		Str("label", res.Label).
		Msg("detection ingested from queue")
	return nil
}

// Deliver runs Handle and settles d: Ack on success, Nack without requeue
// on permanent failures, Nack with requeue otherwise.
func (c *Consumer) Deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.Body)

	var settleErr error
	action := "ack"
	switch {
	case err == nil:
		settleErr = d.Ack(false)
	case IsPermanent(err):
		action = "reject"
		settleErr = d.Nack(false, false)
	default:
		action = "requeue"
		settleErr = d.Nack(false, true)
	}

	event := c.log.Info()
	if err != nil {
		event = c.log.Warn().Err(err)
	}
	if settleErr != nil {
		event = c.log.Error().Err(settleErr)
	}
	event.
		Uint64("delivery_tag", d.DeliveryTag).
		Bool("redelivered", d.Redelivered).
		Str("action", action).
		Msg("detection delivery settled")
}

func (c *Consumer) connect() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(step string, err error) (<-chan amqp.Delivery, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fail("set qos", err)
		}
	}
	msgs, err := ch.Consume(q.Name, c.tag, false, false, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}

	c.conn = conn
	c.ch = ch
	return msgs, nil
}

// Start connects once so a misconfigured broker fails fast, then consumes
// in the background, reconnecting with backoff until ctx ends or Close is
// called.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.connect()
	if err != nil {
		return err
	}
	c.log.Info().
		Str("exchange", c.cfg.Exchange).
		Str("queue", c.cfg.Queue).
		Str("routing_key", c.cfg.RoutingKey).
		Msg("consuming detections")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		backoff := time.Second
		for {
			c.drain(ctx, msgs)

			for {
				select {
				case <-ctx.Done():
					return
				case <-c.done:
					return
				case <-time.After(backoff):
				}
				msgs, err = c.connect()
				if err == nil {
					backoff = time.Second
					c.log.Info().Msg("reconnected to RabbitMQ")
					break
				}
				c.log.Warn().Err(err).Dur("backoff", backoff).Msg("rabbitmq reconnect failed")
				if backoff < maxBackoff {
					backoff *= 2
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d, ok := <-msgs:
			if !ok {
				c.log.Warn().Msg("delivery channel closed, reconnecting")
				return
			}
			c.Deliver(ctx, d)
		}
	}
}

func (c *Consumer) closeLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close stops consuming and waits for the in-flight delivery to settle.
func (c *Consumer) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	c.mu.Lock()
	var err error
	if c.ch != nil {
		err = c.ch.Cancel(c.tag, false)
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	return err
}
