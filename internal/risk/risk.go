// Package risk implements the Risk Engine (C9): a weighted sum of
// independent signal functions producing a score in [0,100] plus an
// explanation bag for an authentication attempt (spec §4.9).
//
// Each Signal is deliberately small and pure apart from the optional
// cache lookup it performs; the Engine owns nothing but the signal
// list and the clip-and-weight arithmetic, mirroring the way
// internal/breaker keeps its state transition logic free of any
// caller-specific policy. Grounded on the zero-trust-control-plane
// auth service's device-trust bookkeeping
// (kamaljohnson-zero-trust-control-plane/backend/internal/identity_service/auth_service.go)
// for the notion of a per-device aggregate risk score bootstrapped on
// first successful authentication, adapted here into an explicit
// Signal rather than inline control flow.
package risk

import (
	"context"

	"github.com/shieldgate/authcore/internal/models"
)

// Input bundles everything a Signal may consult. Signals must not
// mutate Input or any of its pointer fields (§4.9: "no mutation of
// inputs").
type Input struct {
	UserID              string
	DeviceFingerprint   string
	SourceIP            string
	GeoCountry          string // best-effort geolocation estimate for SourceIP
	KnownGoodCountries  []string
	AccountAge          float64 // days since account creation
	RecentFailureCount  int     // failed attempts in the current lockout window
	HourOfDayLocal      int     // 0-23, resolved by the caller from the user's profile timezone
	UsualHoursLocal     []int   // hours the user has historically authenticated in
	KnownBadIP          bool
	Device              *models.Device // nil if this fingerprint has never been seen
}

// Signal computes one independent risk component. It returns a
// magnitude in [0,1]; 0 means "no evidence of risk," 1 means "maximum
// evidence of risk" for that dimension. A Signal must tolerate a cache
// miss or unavailable dependency by degrading to a conservative
// default rather than returning an error (§4.9) — so Signal itself has
// no error return; a Signal that needs a cache consults it internally
// and falls back on failure.
type Signal func(ctx context.Context, in Input) (magnitude float64, explanation string)

// Weighted pairs a Signal with its maximum point contribution to the
// final [0,100] score: a Signal returning magnitude 1 contributes
// exactly Weight points, so a single dominant signal (known-bad-IP)
// can be given enough Weight to cross denyFloor on its own without
// every other signal also maxing out. Weight is not required to sum
// to 1 across an Engine's signals; see DefaultSignals.
type Weighted struct {
	Name   string
	Weight float64
	Fn     Signal
}

// Decision is the outcome of evaluating an Input against configured
// thresholds (§4.9: "below challengeFloor -> allow, between
// challengeFloor and denyFloor -> step-up, at or above denyFloor ->
// deny").
type Decision int

const (
	Allow Decision = iota
	StepUp
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case StepUp:
		return "step-up"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Explanation records one signal's contribution for audit purposes
// (§4.9: "a score plus an explanation bag").
type Explanation struct {
	Signal      string
	Magnitude   float64
	Weight      float64
	Contribution float64
	Detail      string
}

// Score is the result of an Engine.Evaluate call.
type Score struct {
	Value        float64 // clipped to [0,100]
	Decision     Decision
	Explanations []Explanation
}

// Thresholds configures the allow/step-up/deny boundaries; callers
// populate this from internal/config.RiskThresholds.
type Thresholds struct {
	ChallengeFloor float64
	DenyFloor      float64
}

// Engine evaluates Input against a fixed, ordered set of Weighted
// signals. Engines are immutable after construction and safe for
// concurrent use, since Evaluate neither mutates Engine state nor its
// Input argument (§4.9 idempotence).
type Engine struct {
	signals    []Weighted
	thresholds Thresholds
}

// New constructs an Engine. Signal order only affects Explanations
// ordering, never the score, since the sum is commutative.
func New(thresholds Thresholds, signals ...Weighted) *Engine {
	return &Engine{signals: signals, thresholds: thresholds}
}

// Evaluate computes a Score for in. It is idempotent: calling it twice
// with an identical Input yields an identical Score, provided the
// underlying signals' external dependencies (cache, bad-IP lists)
// haven't themselves changed between calls.
func (e *Engine) Evaluate(ctx context.Context, in Input) Score {
	var total float64
	explanations := make([]Explanation, 0, len(e.signals))

	for _, w := range e.signals {
		magnitude, detail := w.Fn(ctx, in)
		if magnitude < 0 {
			magnitude = 0
		}
		if magnitude > 1 {
			magnitude = 1
		}
		contribution := magnitude * w.Weight
		total += contribution
		explanations = append(explanations, Explanation{
			Signal:       w.Name,
			Magnitude:    magnitude,
			Weight:       w.Weight,
			Contribution: contribution,
			Detail:       detail,
		})
	}

	// total is already a sum of points on the [0,100] scale (each
	// Weighted's Weight is its own max point contribution), so no
	// further scaling is applied here, only clipping.
	score := total
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	decision := Allow
	if score >= e.thresholds.DenyFloor {
		decision = Deny
	} else if score >= e.thresholds.ChallengeFloor {
		decision = StepUp
	}

	return Score{Value: score, Decision: decision, Explanations: explanations}
}
