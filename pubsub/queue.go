package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/devrayat000/media-pipeline/config"
	"github.com/devrayat000/media-pipeline/models"
)

var ErrInvalidJob = errors.New("invalid job payload")

// Handler processes one job. Returning an error leaves the job unacknowledged
// so it is delivered again.
type Handler func(ctx context.Context, job models.MediaJob) error

// Queue is the job intake transport. Delivery is at-least-once.
type Queue interface {
	Enqueue(ctx context.Context, job models.MediaJob) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// NewQueue builds the backend named by cfg.QueueBackend. The redis backend
// shares client with the notifier.
func NewQueue(ctx context.Context, cfg config.Config, client *redis.Client, log *slog.Logger) (Queue, error) {
	switch strings.ToLower(cfg.QueueBackend) {
	case "", "redis":
		q, err := NewRedisQueue(ctx, client, cfg.ConsumerName, log)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "amqp", "rabbitmq":
		q, err := NewAMQPQueue(cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func encodeJob(job models.MediaJob) ([]byte, error) {
	if job.MediaID == "" || job.SourcePath == "" {
		return nil, fmt.Errorf("%w: media_id and source_path are required", ErrInvalidJob)
	}
	return json.Marshal(job)
}

func decodeJob(data []byte) (models.MediaJob, error) {
	var job models.MediaJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.MediaJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.MediaID == "" || job.SourcePath == "" {
		return models.MediaJob{}, fmt.Errorf("%w: media_id and source_path are required", ErrInvalidJob)
	}
	return job, nil
}
