package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/models"
)

func TestEngine_AllowsCleanInput(t *testing.T) {
	e := New(Thresholds{ChallengeFloor: 40, DenyFloor: 80}, DefaultSignals()...)

	in := Input{
		UserID:             "u1",
		GeoCountry:         "US",
		KnownGoodCountries: []string{"US"},
		AccountAge:         365,
		Device:             &models.Device{Trust: 2},
		UsualHoursLocal:    []int{9},
		HourOfDayLocal:     9,
	}

	score := e.Evaluate(context.Background(), in)
	assert.Equal(t, Allow, score.Decision)
	assert.Less(t, score.Value, 40.0)
	assert.Len(t, score.Explanations, len(DefaultSignals()))
}

func TestEngine_KnownBadIPDenies(t *testing.T) {
	e := New(Thresholds{ChallengeFloor: 40, DenyFloor: 80}, DefaultSignals()...)

	in := Input{
		UserID:             "u1",
		GeoCountry:         "US",
		KnownGoodCountries: []string{"US"},
		AccountAge:         365,
		Device:             &models.Device{Trust: 2},
		KnownBadIP:         true,
	}

	score := e.Evaluate(context.Background(), in)
	assert.Equal(t, Deny, score.Decision)
}

func TestEngine_UnfamiliarLocationStepsUp(t *testing.T) {
	e := New(Thresholds{ChallengeFloor: 40, DenyFloor: 80}, DefaultSignals()...)

	in := Input{
		UserID:             "u1",
		GeoCountry:         "RU",
		KnownGoodCountries: []string{"US"},
		AccountAge:         365,
		Device:             nil, // never-seen device compounds the unfamiliar location
	}

	score := e.Evaluate(context.Background(), in)
	assert.Equal(t, StepUp, score.Decision)
}

func TestEngine_IdempotentForIdenticalInput(t *testing.T) {
	e := New(Thresholds{ChallengeFloor: 40, DenyFloor: 80}, DefaultSignals()...)
	in := Input{UserID: "u1", GeoCountry: "US", KnownGoodCountries: []string{"US"}, AccountAge: 10}

	first := e.Evaluate(context.Background(), in)
	second := e.Evaluate(context.Background(), in)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.Decision, second.Decision)
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	e := New(Thresholds{ChallengeFloor: 40, DenyFloor: 80}, DefaultSignals()...)
	in := Input{UserID: "u1", KnownGoodCountries: []string{"US"}}
	snapshot := in

	e.Evaluate(context.Background(), in)
	require.Equal(t, snapshot, in)
}

func TestCachedAggregateSignal_DegradesOnMiss(t *testing.T) {
	sig := CachedAggregateSignal(nil, 0.25)
	magnitude, detail := sig(context.Background(), Input{UserID: "u1"})
	assert.Equal(t, 0.25, magnitude)
	assert.NotEmpty(t, detail)
}

func TestVelocitySignal_SaturatesAtThreshold(t *testing.T) {
	sig := VelocitySignal(4)

	m0, _ := sig(context.Background(), Input{RecentFailureCount: 0})
	m2, _ := sig(context.Background(), Input{RecentFailureCount: 2})
	m4, _ := sig(context.Background(), Input{RecentFailureCount: 4})
	m10, _ := sig(context.Background(), Input{RecentFailureCount: 10})

	assert.Equal(t, 0.0, m0)
	assert.InDelta(t, 0.5, m2, 0.001)
	assert.Equal(t, 1.0, m4)
	assert.Equal(t, 1.0, m10)
}
