// Package broker implements the durable work-queue abstraction (§7
// "Message broker (abstract)") over RabbitMQ via amqp091-go. The publish
// and consume semantics — durable queues, reply_to/correlation_id routing,
// prefetch 1, publish retry with a fixed delay — are grounded in
// original_source's brain/modules/rabbit.py.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TaskRequest is a published message: a queue name to route to plus an
// opaque JSON body, a reply_to address (the URL the worker PUTs its result
// to), and a correlation id the worker echoes
// back on reply (§4.8, §4.9).
type TaskRequest struct {
	Queue         string
	ReplyTo       string
	CorrelationID string
	Body          []byte
}

// Delivery is one consumed message, acknowledged explicitly by the caller
// once it has durably handled it (§4.8 "ack-after-reply-or-exhaustion").
type Delivery struct {
	Body          []byte
	ReplyTo       string
	CorrelationID string

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery from explicit ack/nack callbacks, used by
// tests (and any in-process transport fake) that need to hand the worker
// runtime a Delivery without a live RabbitMQ connection.
func NewDelivery(body []byte, replyTo, correlationID string, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Body: body, ReplyTo: replyTo, CorrelationID: correlationID, ack: ack, nack: nack}
}

func (d Delivery) Ack() error              { return d.ack() }
func (d Delivery) Nack(requeue bool) error { return d.nack(requeue) }

// Broker publishes task requests and consumes them. It carries each
// message's reply_to and correlation_id but does not itself publish or
// consume replies.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	declaredQueues map[string]bool
	maxRetries     int
	retryDelay     time.Duration
}

// Dial connects to RabbitMQ at url and opens a channel with prefetch=1, the
// "only fetch one task at a time" policy from original_source.
func Dial(ctx context.Context, url string) (*Broker, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 0})
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	return &Broker{
		conn:           conn,
		ch:             ch,
		declaredQueues: make(map[string]bool),
		maxRetries:     5,
		retryDelay:     2 * time.Second,
	}, nil
}

func (b *Broker) Close() error {
	chErr := b.ch.Close()
	connErr := b.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

func (b *Broker) declareQueue(queue string) error {
	if b.declaredQueues[queue] {
		return nil
	}
	_, err := b.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queue, err)
	}
	b.declaredQueues[queue] = true
	return nil
}

// Publish sends req.Body to req.Queue as a persistent message carrying
// reply_to/correlation_id, retrying up to maxRetries times on connection
// errors with a fixed delay, mirroring send_treq.
func (b *Broker) Publish(ctx context.Context, req TaskRequest) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("broker: retrying publish to %s (attempt %d/%d): %v", req.Queue, attempt, b.maxRetries, lastErr)
			time.Sleep(b.retryDelay)
		}

		if err := b.declareQueue(req.Queue); err != nil {
			lastErr = err
			continue
		}

		err := b.ch.PublishWithContext(ctx, "", req.Queue, false, false, amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			ReplyTo:       req.ReplyTo,
			CorrelationId: req.CorrelationID,
			Body:          req.Body,
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("broker: publish to %s failed after %d attempts: %w", req.Queue, b.maxRetries+1, lastErr)
}

// PublishJSON marshals v and publishes it, a convenience wrapper over the
// raw Publish used by the dispatcher for task requests.
func (b *Broker) PublishJSON(ctx context.Context, queue, replyTo, correlationID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal body for %s: %w", queue, err)
	}
	return b.Publish(ctx, TaskRequest{Queue: queue, ReplyTo: replyTo, CorrelationID: correlationID, Body: body})
}

// Consume starts consuming queue and returns a channel of Deliveries. The
// caller must Ack or Nack each delivery.
func (b *Broker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	if err := b.declareQueue(queue); err != nil {
		return nil, err
	}

	raw, err := b.ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				delivery := msg
				out <- Delivery{
					Body:          delivery.Body,
					ReplyTo:       delivery.ReplyTo,
					CorrelationID: delivery.CorrelationId,
					ack:           func() error { return delivery.Ack(false) },
					nack:          func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
			}
		}
	}()
	return out, nil
}
