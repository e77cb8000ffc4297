package challenges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"
	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

// RedisStore is the production binding for the ephemeral challenge
// tier named in §6's persistent-state layout ("Ephemeral (TTL-indexed):
// Challenges, rate-limit counters, cached projections"). It uses the
// same redis/go-redis/v9 client the cache substrate's distributed tier
// and the rate limiter wrap, but reaches for WATCH/MULTI directly here
// because WithLock needs a true compare-and-swap rather than a
// read-through cache fill.
type RedisStore struct {
	client    *goredis.Client
	keyPrefix string
}

// NewRedisStore constructs a RedisStore over an existing client.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "authcore:challenge:"}
}

func (r *RedisStore) key(id uuid.UUID) string {
	return r.keyPrefix + id.String()
}

func (r *RedisStore) Create(ctx context.Context, c *models.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("challenges: marshal: %w", err)
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, r.key(c.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("challenges: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, autherrors.ErrChallengeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("challenges: redis get: %w", err)
	}
	var c models.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("challenges: unmarshal: %w", err)
	}
	return &c, nil
}

// WithLock implements the compare-and-swap contract with a redis
// optimistic transaction: it watches the key, re-reads the value
// inside the transaction, invokes fn, and writes the result only if
// the key hasn't changed since the watch began. A concurrent verifier
// that loses the race retries up to a small bound, matching the
// "first consumer wins" requirement in §4.8/§8 without a distributed
// lock service.
func (r *RedisStore) WithLock(ctx context.Context, id uuid.UUID, fn func(c *models.Challenge) (*models.Challenge, error)) error {
	key := r.key(id)
	const maxRetries = 8

	for attempt := 0; attempt < maxRetries; attempt++ {
		var txErr error
		err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				txErr = autherrors.ErrChallengeExpired
				return nil
			}
			if err != nil {
				return err
			}
			var c models.Challenge
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}

			next, fnErr := fn(&c)
			if fnErr != nil {
				txErr = fnErr
				return nil
			}
			if next == nil {
				return nil
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}
			ttl := time.Until(next.ExpiresAt)
			if ttl <= 0 {
				ttl = time.Second
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			continue // lost the optimistic race; retry
		}
		if err != nil {
			return fmt.Errorf("challenges: redis transaction: %w", err)
		}
		return txErr
	}
	return fmt.Errorf("%w: challenge %s: too much contention", autherrors.ErrTemporaryFailure, id)
}
