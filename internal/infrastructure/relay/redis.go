package relay

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
)

const redisChannelPrefix = "txstream:"

func redisChannel(txRef string) string {
	return redisChannelPrefix + txRef
}

// RedisRelay fans events out through Redis Pub/Sub, one channel per tx_ref.
type RedisRelay struct {
	rdb    *goredis.Client
	sink   Sink
	logger logger.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisRelay parses a URL such as "redis://localhost:6379/0".
func NewRedisRelay(redisURL string, sink Sink, log logger.Logger) (*RedisRelay, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisRelay{
		rdb:    goredis.NewClient(opts),
		sink:   sink,
		logger: log.WithField("component", "redis-relay"),
		ready:  make(chan struct{}),
	}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, event hub.Event) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, redisChannel(event.TxRef), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.TxRef, err)
	}
	return nil
}

func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription confirmation before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("Redis relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			event, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.WithField("channel", msg.Channel).Warnf("Dropping relay message: %v", err)
				continue
			}
			r.sink.Publish(event.TxRef, event)
		}
	}
}

func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
