package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

// RedisDistributed adapts zeromicro/go-zero's redis.Redis (itself
// backed by redis/go-redis/v9) to the Distributed interface, following
// the construction pattern of the teacher's
// third_party/cache.NewRedisConnection, generalized to expose the raw
// client for Pub/Sub (needed for invalidation broadcast, which
// go-zero's high-level redis.Redis does not wrap).
type RedisDistributed struct {
	store *redis.Redis
	raw   *goredis.Client
}

// RedisConfig mirrors the teacher's RedisConfig shape.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisDistributed connects to Redis and verifies reachability at
// startup, exactly as the teacher's NewRedisConnection does.
func NewRedisDistributed(config RedisConfig) (*RedisDistributed, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	store := redis.New(addr, func(r *redis.Redis) {
		r.Pass = config.Password
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.PingCtx(ctx); err != nil {
		logx.Errorf("cache: failed to connect to redis: %v", err)
		return nil, fmt.Errorf("cache: connect redis: %w", err)
	}
	logx.Info("cache: connected to redis distributed tier")

	raw := goredis.NewClient(&goredis.Options{Addr: addr, Password: config.Password, DB: config.DB})
	return &RedisDistributed{store: store, raw: raw}, nil
}

func (r *RedisDistributed) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.store.GetCtx(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	if val == "" {
		return nil, ErrNotFound
	}
	return []byte(val), nil
}

func (r *RedisDistributed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.store.SetCtx(ctx, key, string(value))
	}
	return r.store.SetexCtx(ctx, key, string(value), int(ttl.Seconds()))
}

func (r *RedisDistributed) Del(ctx context.Context, key string) error {
	_, err := r.store.DelCtx(ctx, key)
	return err
}

func (r *RedisDistributed) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.raw.Publish(ctx, channel, payload).Err()
}

// Subscribe starts a blocking receive loop over the invalidation
// channel, invoking handle for each message until ctx is canceled.
// Callers typically run this in its own goroutine, wiring handle to
// Substrate.HandleInvalidation.
func (r *RedisDistributed) Subscribe(ctx context.Context, channel string, handle func([]byte)) error {
	sub := r.raw.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("cache: subscription channel closed")
			}
			handle([]byte(msg.Payload))
		}
	}
}

func (r *RedisDistributed) Close() error {
	return r.raw.Close()
}
