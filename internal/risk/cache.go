package risk

import (
	"context"
	"strconv"

	"github.com/shieldgate/authcore/internal/cache"
)

// AggregateLookup fetches a user's cached aggregate risk figure (e.g.
// the rolling average of their last N sessions' scores). It returns
// ok=false on any miss or error, including a circuit-open cache, so
// callers can degrade rather than propagate a cache failure into the
// evaluation (§4.9: "must tolerate cache unavailability").
type AggregateLookup func(ctx context.Context, userID string) (value float64, ok bool)

// CachedAggregateSignal wraps a cache.Substrate lookup as a Signal,
// degrading to a conservative default magnitude whenever the
// underlying fetch fails for any reason — breaker open, miss, or
// transient error alike are indistinguishable to the signal, by design
// (§4.9: "degrade to a conservative default, never fail the whole
// evaluation").
func CachedAggregateSignal(substrate *cache.Substrate, defaultMagnitude float64) Signal {
	return func(ctx context.Context, in Input) (float64, string) {
		if substrate == nil || in.UserID == "" {
			return defaultMagnitude, "no cache substrate configured"
		}
		key := "risk:aggregate:" + in.UserID
		raw, err := substrate.Get(ctx, key, nil) // nil loader: a pure read, no authoritative fallback to compute here
		if err != nil {
			return defaultMagnitude, "aggregate risk unavailable, using conservative default"
		}
		value, parseErr := strconv.ParseFloat(string(raw), 64)
		if parseErr != nil {
			return defaultMagnitude, "aggregate risk cache entry malformed"
		}
		if value < 0 {
			value = 0
		}
		if value > 1 {
			value = 1
		}
		return value, "cached aggregate risk for this user"
	}
}
