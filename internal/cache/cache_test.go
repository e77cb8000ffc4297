package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/breaker"
)

var errBoomDistributed = errors.New("distributed tier unavailable")

type fakeDistributed struct {
	mu        sync.Mutex
	data      map[string][]byte
	failGets  bool
	published [][2][]byte
}

func newFakeDistributed() *fakeDistributed {
	return &fakeDistributed{data: make(map[string][]byte)}
}

func (f *fakeDistributed) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGets {
		return nil, errBoomDistributed
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeDistributed) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeDistributed) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeDistributed) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, [2][]byte{[]byte(channel), payload})
	return nil
}

func TestGetFallsThroughToLoaderOnCompleteMiss(t *testing.T) {
	dist := newFakeDistributed()
	s, err := New(Config{}, dist)
	require.NoError(t, err)

	var loads int32
	load := func(context.Context) ([]byte, time.Duration, error) {
		atomic.AddInt32(&loads, 1)
		return []byte("origin-value"), time.Minute, nil
	}

	v, err := s.Get(context.Background(), "k1", load)
	require.NoError(t, err)
	require.Equal(t, "origin-value", string(v))
	require.Equal(t, int32(1), loads)
}

func TestGetPrefersLocalThenDistributedOverLoader(t *testing.T) {
	dist := newFakeDistributed()
	dist.data["k1"] = []byte("from-distributed")
	s, err := New(Config{}, dist)
	require.NoError(t, err)

	called := false
	v, err := s.Get(context.Background(), "k1", func(context.Context) ([]byte, time.Duration, error) {
		called = true
		return nil, 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, "from-distributed", string(v))
	require.False(t, called)
}

func TestSetPopulatesBothTiers(t *testing.T) {
	dist := newFakeDistributed()
	s, err := New(Config{}, dist)
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), "k1", []byte("v1"), time.Minute))

	v, err := s.Get(context.Background(), "k1", nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	require.Equal(t, []byte("v1"), dist.data["k1"])
}

func TestInvalidateClearsLocalAndDistributedAndBroadcasts(t *testing.T) {
	dist := newFakeDistributed()
	s, err := New(Config{InvalidationSigningKey: []byte("sig-key")}, dist)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k1", []byte("v1"), time.Minute))

	require.NoError(t, s.Invalidate(context.Background(), "k1"))

	_, stillLocal := s.local.Get("k1")
	require.False(t, stillLocal)
	_, distPresent := dist.data["k1"]
	require.False(t, distPresent)
	require.Len(t, dist.published, 1)
}

func TestHandleInvalidationRejectsBadSignature(t *testing.T) {
	s, err := New(Config{InvalidationSigningKey: []byte("sig-key")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k1", []byte("v1"), time.Minute))

	s.HandleInvalidation([]byte("forged-signature:k1"))

	v, err := s.Get(context.Background(), "k1", nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(v)) // untouched: forged message ignored
}

func TestHandleInvalidationAppliesValidSignature(t *testing.T) {
	sourceDist := newFakeDistributed()
	source, err := New(Config{InvalidationSigningKey: []byte("sig-key")}, sourceDist)
	require.NoError(t, err)
	require.NoError(t, source.Set(context.Background(), "k1", []byte("v1"), time.Minute))
	require.NoError(t, source.Invalidate(context.Background(), "k1"))

	peerDist := newFakeDistributed()
	peer, err := New(Config{InvalidationSigningKey: []byte("sig-key")}, peerDist)
	require.NoError(t, err)
	require.NoError(t, peer.Set(context.Background(), "k1", []byte("stale"), time.Minute))

	msg := sourceDist.published[0][1]
	peer.HandleInvalidation(msg)

	_, ok := peer.local.Get("k1")
	require.False(t, ok)
}

func TestOpenBreakerFallsThroughToLoaderRatherThanBlocking(t *testing.T) {
	dist := newFakeDistributed()
	dist.failGets = true
	br := breaker.New(breaker.Config{FailureThreshold: 1})
	s, err := New(Config{Breaker: br}, dist)
	require.NoError(t, err)

	load := func(context.Context) ([]byte, time.Duration, error) {
		return []byte("origin-fallback"), time.Minute, nil
	}

	// First call trips the breaker (one failure reaches the threshold).
	v, err := s.Get(context.Background(), "k1", load)
	require.NoError(t, err)
	require.Equal(t, "origin-fallback", string(v))
	require.Equal(t, breaker.StateOpen, br.State())
}
