package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devrayat000/media-pipeline/models"
)

const (
	StatusKeyPrefix  = "media:status:last:"
	StatusChannel    = "media:status:"
	StatusAllChannel = "media:status:all"

	DefaultStatusTTL = 24 * time.Hour
)

var ErrNoStatus = errors.New("no status cached")

// Notifier pushes status events over Redis pub/sub and caches the latest one
// per item.
type Notifier struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewNotifier(client *redis.Client, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{client: client, ttl: DefaultStatusTTL, log: log}
}

func (n *Notifier) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = n.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, StatusChannel+event.MediaID, data)
		pipe.Publish(ctx, StatusAllChannel, data)
		pipe.Set(ctx, StatusKeyPrefix+event.MediaID, data, n.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish status %s: %w", event.MediaID, err)
	}
	return nil
}

// GetStatus returns the last cached event for mediaID.
func (n *Notifier) GetStatus(ctx context.Context, mediaID string) (*models.StatusEvent, error) {
	data, err := n.client.Get(ctx, StatusKeyPrefix+mediaID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoStatus
		}
		return nil, err
	}

	var event models.StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Subscribe streams events for one item, or every item when mediaID is
// empty. The channel closes when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, mediaID string) (<-chan models.StatusEvent, error) {
	channel := StatusAllChannel
	if mediaID != "" {
		channel = StatusChannel + mediaID
	}
	sub := n.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	events := make(chan models.StatusEvent)
	go func() {
		defer close(events)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.log.Warn("error unmarshaling status event", "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
