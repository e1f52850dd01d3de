package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// RedisNotifier publishes every event on one channel and keeps the latest
// event per submission under a key, so a late subscriber can catch up.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisNotifier(addr, password, channel string, ttl time.Duration) (*RedisNotifier, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
		if opts.Password == "" {
			opts.Password = password
		}
	}
	opts.DialTimeout = defaultDialTimeout
	opts.WriteTimeout = defaultWriteTimeout

	return &RedisNotifier{
		client:  redis.NewClient(opts),
		channel: channel,
		ttl:     ttl,
	}, nil
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Publish(ctx context.Context, ev model.StatusEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.channel, payload)
	pipe.Set(ctx, statusKey(n.channel, ev.SubmissionID), payload, n.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", n.channel, err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func statusKey(channel string, submissionID int64) string {
	return fmt.Sprintf("%s:submission:%d", channel, submissionID)
}
