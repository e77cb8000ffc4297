package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"github.com/shieldgate/authcore/internal/autherrors"
)

func newTestLimiter(t *testing.T, policies map[RouteClass]ClassPolicy) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redis.New(mr.Addr())
	return New(store, policies)
}

func TestCheckAllowsWithinBudget(t *testing.T) {
	l := newTestLimiter(t, map[RouteClass]ClassPolicy{
		ClassTOTPVerify: {Window: time.Minute, Max: 3},
	})

	for i := 0; i < 3; i++ {
		decision, err := l.Check(context.Background(), ClassTOTPVerify, "user-1")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
}

func TestCheckDeniesOverBudget(t *testing.T) {
	l := newTestLimiter(t, map[RouteClass]ClassPolicy{
		ClassTOTPVerify: {Window: time.Minute, Max: 2},
	})

	for i := 0; i < 2; i++ {
		decision, err := l.Check(context.Background(), ClassTOTPVerify, "user-1")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := l.Check(context.Background(), ClassTOTPVerify, "user-1")
	require.ErrorIs(t, err, autherrors.ErrRateLimited)
	require.False(t, decision.Allowed)
}

func TestCheckDimensionsAreIndependent(t *testing.T) {
	l := newTestLimiter(t, map[RouteClass]ClassPolicy{
		ClassPasswordAuth: {Window: time.Minute, Max: 1},
	})

	decisionA, err := l.Check(context.Background(), ClassPasswordAuth, "ip1|a@example.com")
	require.NoError(t, err)
	require.True(t, decisionA.Allowed)

	decisionB, err := l.Check(context.Background(), ClassPasswordAuth, "ip2|b@example.com")
	require.NoError(t, err)
	require.True(t, decisionB.Allowed)

	_, err = l.Check(context.Background(), ClassPasswordAuth, "ip1|a@example.com")
	require.ErrorIs(t, err, autherrors.ErrRateLimited)
}

func TestCheckRejectsUnrecognizedClass(t *testing.T) {
	l := newTestLimiter(t, map[RouteClass]ClassPolicy{
		ClassPasswordAuth: {Window: time.Minute, Max: 1},
	})

	_, err := l.Check(context.Background(), ClassGenericRead, "whoever")
	require.Error(t, err)
}

func TestDefaultPoliciesCoverAllSixClasses(t *testing.T) {
	policies := DefaultPolicies()
	require.Len(t, policies, 6)
	require.Equal(t, ClassPolicy{Window: 15 * time.Minute, Max: 5}, policies[ClassPasswordAuth])
	require.Equal(t, ClassPolicy{Window: time.Hour, Max: 3}, policies[ClassMagicLinkIssue])
	require.Equal(t, ClassPolicy{Window: 5 * time.Minute, Max: 10}, policies[ClassTOTPVerify])
	require.Equal(t, ClassPolicy{Window: time.Minute, Max: 30}, policies[ClassRefresh])
	require.Equal(t, ClassPolicy{Window: time.Minute, Max: 50}, policies[ClassGenericWrite])
	require.Equal(t, ClassPolicy{Window: time.Minute, Max: 200}, policies[ClassGenericRead])
}
