package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devrayat000/media-pipeline/config"
	"github.com/devrayat000/media-pipeline/models"
)

const (
	MediaJobsStream = "media:jobs"
	ConsumerGroup   = "media-workers"

	// DefaultClaimIdle is how long another consumer's entry must sit
	// unacknowledged before it is taken over.
	DefaultClaimIdle = 30 * time.Minute

	// DefaultRedeliverInterval is how often a running consumer retries its
	// own failed entries and looks for stale ones.
	DefaultRedeliverInterval = time.Minute
)

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisQueue carries jobs on a Redis stream read through a consumer group.
type RedisQueue struct {
	client    *redis.Client
	consumer  string
	log       *slog.Logger
	block     time.Duration
	claimIdle time.Duration
	redeliver time.Duration
}

func NewRedisQueue(ctx context.Context, client *redis.Client, consumer string, log *slog.Logger) (*RedisQueue, error) {
	if consumer == "" {
		consumer = "worker-1"
	}
	if log == nil {
		log = slog.Default()
	}

	err := client.XGroupCreateMkStream(ctx, MediaJobsStream, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &RedisQueue{
		client:    client,
		consumer:  consumer,
		log:       log,
		block:     5 * time.Second,
		claimIdle: DefaultClaimIdle,
		redeliver: DefaultRedeliverInterval,
	}, nil
}

// Enqueue adds a job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.MediaJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: MediaJobsStream,
		Values: map[string]any{
			"media_id":    job.MediaID,
			"data":        string(data),
			"enqueued_at": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add job to stream: %w", err)
	}

	q.log.Info("job enqueued", "media_id", job.MediaID)
	return nil
}

// Consume redelivers this consumer's unacknowledged entries, takes over stale
// entries from other consumers, then reads new entries until ctx is done.
// Redelivery repeats every redeliver interval so failed jobs are retried
// without a restart.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.redeliverPending(ctx, handler)
	last := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(last) >= q.redeliver {
			q.redeliverPending(ctx, handler)
			last = time.Now()
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: q.consumer,
			Streams:  []string{MediaJobsStream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Error("error reading from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				q.processMessage(ctx, message, handler)
			}
		}
	}
}

func (q *RedisQueue) redeliverPending(ctx context.Context, handler Handler) {
	if err := q.processOwnPending(ctx, handler); err != nil {
		q.log.Warn("error processing own pending messages", "error", err)
	}
	if err := q.claimStale(ctx, handler); err != nil {
		q.log.Warn("error claiming stale messages", "error", err)
	}
}

// processOwnPending replays entries delivered to this consumer name but never
// acknowledged, e.g. after a crash.
func (q *RedisQueue) processOwnPending(ctx context.Context, handler Handler) error {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: q.consumer,
		Streams:  []string{MediaJobsStream, "0"},
		Count:    100,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read pending messages: %w", err)
	}

	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			q.log.Info("redelivering pending messages", "count", len(stream.Messages))
		}
		for _, message := range stream.Messages {
			q.processMessage(ctx, message, handler)
		}
	}
	return nil
}

func (q *RedisQueue) claimStale(ctx context.Context, handler Handler) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: MediaJobsStream,
		Group:  ConsumerGroup,
		Idle:   q.claimIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	for _, p := range pending {
		if p.Consumer == q.consumer {
			continue
		}
		messages, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   MediaJobsStream,
			Group:    ConsumerGroup,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			q.log.Error("error claiming message", "message_id", p.ID, "error", err)
			continue
		}
		for _, message := range messages {
			q.log.Info("claimed stale message", "message_id", message.ID, "from", p.Consumer)
			q.processMessage(ctx, message, handler)
		}
	}
	return nil
}

func (q *RedisQueue) processMessage(ctx context.Context, message redis.XMessage, handler Handler) {
	job, err := parseJob(message.Values)
	if err != nil {
		q.log.Error("dropping unparseable job", "message_id", message.ID, "error", err)
		q.ack(ctx, message.ID)
		return
	}

	log := q.log.With("media_id", job.MediaID, "message_id", message.ID)
	log.Info("processing job")

	if err := handler(ctx, job); err != nil {
		// Left pending for redelivery.
		log.Error("job not acknowledged", "error", err)
		return
	}
	q.ack(ctx, message.ID)
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	// Acknowledge even while shutting down so finished work is not repeated.
	if err := q.client.XAck(context.WithoutCancel(ctx), MediaJobsStream, ConsumerGroup, id).Err(); err != nil {
		q.log.Error("failed to acknowledge message", "message_id", id, "error", err)
	}
}

// Close is a no-op; the client belongs to the caller.
func (q *RedisQueue) Close() error {
	return nil
}

func parseJob(values map[string]any) (models.MediaJob, error) {
	data, ok := values["data"].(string)
	if !ok {
		return models.MediaJob{}, fmt.Errorf("%w: missing data field", ErrInvalidJob)
	}
	return decodeJob([]byte(data))
}
