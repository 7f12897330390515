package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/redis/go-redis/v9"
)

const statusTTL = 24 * time.Hour

// RedisPublisher fans segments out over pub/sub and keeps the recording
// status in a hash so late subscribers can catch up.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) segmentChannel(sessionID string) string {
	return fmt.Sprintf("%s:segments:%s", p.prefix, sessionID)
}

func (p *RedisPublisher) statusKey(sessionID string) string {
	return fmt.Sprintf("%s:recording:%s", p.prefix, sessionID)
}

func (p *RedisPublisher) PublishSegment(ctx context.Context, seg publisher.LiveSegment) error {
	payload, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to encode segment: %w", err)
	}
	channel := p.segmentChannel(seg.SessionID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, status publisher.RecordingStatus) error {
	key := p.statusKey(status.SessionID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, statusFields(status))
		pipe.Expire(ctx, key, statusTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	return nil
}

func statusFields(status publisher.RecordingStatus) map[string]any {
	return map[string]any{
		"engine":     status.Engine,
		"state":      status.State,
		"updated_ms": status.UpdatedMs,
	}
}

// Shutdown closes the client when the injector shuts down.
func (p *RedisPublisher) Shutdown() error {
	return p.client.Close()
}
