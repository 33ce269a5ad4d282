package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/devrayat000/media-pipeline/models"
)

const MediaJobsQueue = "media_jobs"

// AMQPQueue carries jobs on a durable RabbitMQ queue with manual acks.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger

	publishMu sync.Mutex
}

// NewAMQPQueue dials with retries, since the broker may still be starting.
func NewAMQPQueue(url string, log *slog.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = slog.Default()
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("waiting for RabbitMQ", "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		MediaJobsQueue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &AMQPQueue{conn: conn, ch: ch, log: log}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job models.MediaJob) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	err = q.ch.PublishWithContext(ctx,
		"",             // exchange
		MediaJobsQueue, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	q.log.Info("job enqueued", "media_id", job.MediaID)
	return nil
}

// Consume handles one delivery at a time. Failed jobs are requeued; payloads
// that cannot be decoded are dropped.
func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := q.ch.ConsumeWithContext(ctx,
		MediaJobsQueue, // queue
		"",             // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("delivery channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	job, err := decodeJob(d.Body)
	if err != nil {
		q.log.Error("dropping unparseable job", "error", err)
		d.Nack(false, false)
		return
	}

	log := q.log.With("media_id", job.MediaID)
	if err := handler(ctx, job); err != nil {
		log.Error("job failed, requeueing", "error", err)
		d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("failed to acknowledge job", "error", err)
	}
}

func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}
