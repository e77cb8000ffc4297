// Package cache implements the Cache Substrate (C4): a local bounded
// LRU fronting a distributed key-value tier, guarded by a circuit
// breaker and coalescing concurrent loader calls with single-flight.
//
// The local tier is grounded on go-zero's core/collection.Cache (the
// teacher already depends on zeromicro/go-zero throughout its rpc
// services); the distributed tier wraps the teacher's own
// third_party/cache.RedisClient pattern, generalized from a single
// fixed client into the pluggable Distributed interface below so the
// breaker and single-flight layers can be tested without a live
// Redis. Fill coalescing uses golang.org/x/sync/singleflight, the same
// package pkg/gourdiantoken-master's redis-backed store reaches for
// when deduplicating concurrent lookups.
package cache

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/breaker"
)

// ErrNotFound is the "expected" error class the breaker must never
// count as a failure (§4.4).
var ErrNotFound = errors.New("cache: key not found")

// Distributed is the subset of a distributed KV store the substrate
// needs. The production binding is a thin adapter over
// zeromicro/go-zero/core/stores/redis.Redis (itself backed by
// redis/go-redis/v9); tests use an in-memory fake.
type Distributed interface {
	Get(ctx context.Context, key string) ([]byte, error) // returns ErrNotFound on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Loader fetches the authoritative value for a cache miss.
type Loader func(ctx context.Context) ([]byte, time.Duration, error)

// Config configures a Substrate.
type Config struct {
	LocalCapacity          int           // max local entries; go-zero's collection.Cache default applies if zero
	LocalTTL               time.Duration // per-entry TTL for the local tier
	Breaker                *breaker.Breaker
	InvalidationSigningKey []byte // HMAC key authenticating invalidation broadcasts
}

// Substrate is the two-tier cache described in §4.4.
type Substrate struct {
	local       *collection.Cache
	distributed Distributed
	breaker     *breaker.Breaker
	flight      singleflight.Group
	signingKey  []byte
}

// New constructs a Substrate. distributed may be nil, in which case
// the substrate degrades to local-only (useful for tests and for the
// window where the distributed tier is provisioned).
func New(config Config, distributed Distributed) (*Substrate, error) {
	ttl := config.LocalTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	var opts []collection.CacheOption
	if config.LocalCapacity > 0 {
		opts = append(opts, collection.WithLimit(config.LocalCapacity))
	}
	local, err := collection.NewCache(ttl, opts...)
	if err != nil {
		return nil, fmt.Errorf("cache: construct local tier: %w", err)
	}
	br := config.Breaker
	if br == nil {
		br = breaker.New(breaker.Config{})
	}
	return &Substrate{local: local, distributed: distributed, breaker: br, signingKey: config.InvalidationSigningKey}, nil
}

func isExpectedMiss(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Get attempts the local tier, then the distributed tier through the
// breaker, then invokes load on a complete miss. A single concurrent
// load per key is performed regardless of how many callers miss at the
// same instant (§4.4 single-flight semantics).
func (s *Substrate) Get(ctx context.Context, key string, load Loader) ([]byte, error) {
	if v, ok := s.local.Get(key); ok {
		return v.([]byte), nil
	}

	result, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if v, ok := s.local.Get(key); ok {
			return v.([]byte), nil
		}

		if s.distributed != nil {
			var value []byte
			execErr := s.breaker.Execute(ctx, isExpectedMiss, func(ctx context.Context) error {
				v, err := s.distributed.Get(ctx, key)
				if err != nil {
					return err
				}
				value = v
				return nil
			})
			if execErr == nil {
				s.local.Set(key, value)
				return value, nil
			}
			if !isExpectedMiss(execErr) && !errors.Is(execErr, autherrors.ErrDependencyUnavailable) {
				logx.Errorf("cache: distributed tier error for %q: %v", key, execErr)
			}
			// Any non-nil outcome (miss, breaker open, transient error)
			// falls through to the loader; the breaker already recorded
			// the outcome against the distributed tier.
		}

		if load == nil {
			return nil, ErrNotFound
		}
		value, ttl, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Set populates both tiers directly, bypassing the loader path.
func (s *Substrate) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.set(key, value, ttl)
	if s.distributed == nil {
		return nil
	}
	err := s.breaker.Execute(ctx, isExpectedMiss, func(ctx context.Context) error {
		return s.distributed.Set(ctx, key, value, ttl)
	})
	if err != nil && !errors.Is(err, autherrors.ErrDependencyUnavailable) {
		return fmt.Errorf("cache: set distributed tier: %w", err)
	}
	return nil
}

func (s *Substrate) set(key string, value []byte, ttl time.Duration) {
	if ttl > 0 {
		s.local.SetWithExpire(key, value, ttl)
	} else {
		s.local.Set(key, value)
	}
}

// invalidationChannel is the pub/sub channel signed broadcasts travel
// on to drop stale local entries across processes.
const invalidationChannel = "authcore:cache:invalidate"

// Invalidate drops key locally, deletes it from the distributed tier,
// and broadcasts a signed invalidation so other processes' local
// tiers evict it too (§4.4: "local tiers accept a signed invalidation
// broadcast").
func (s *Substrate) Invalidate(ctx context.Context, key string) error {
	s.local.Del(key)
	if s.distributed == nil {
		return nil
	}
	if err := s.distributed.Del(ctx, key); err != nil {
		return fmt.Errorf("cache: delete from distributed tier: %w", err)
	}
	msg := s.signInvalidation(key)
	if err := s.distributed.Publish(ctx, invalidationChannel, msg); err != nil {
		return fmt.Errorf("cache: publish invalidation: %w", err)
	}
	return nil
}

// HandleInvalidation verifies and applies an invalidation message
// received from the broadcast channel, for use by a subscriber loop
// run alongside this process's Substrate.
func (s *Substrate) HandleInvalidation(msg []byte) {
	key, ok := s.verifyInvalidation(msg)
	if !ok {
		logx.Error("cache: dropped invalidation broadcast with invalid signature")
		return
	}
	s.local.Del(key)
}

func (s *Substrate) signInvalidation(key string) []byte {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	sig := hex.EncodeToString(mac.Sum(nil))
	return []byte(sig + ":" + key)
}

func (s *Substrate) verifyInvalidation(msg []byte) (string, bool) {
	sig, key, found := strings.Cut(string(msg), ":")
	if !found {
		return "", false
	}
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return key, true
}
