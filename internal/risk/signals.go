package risk

import (
	"context"
	"fmt"
)

// NewDeviceSignal flags authentications from a fingerprint the Risk
// Engine has never bound to this user's Device record (§4.9 inputs:
// "device fingerprint"; §4.10 edge case: device trust bootstraps on
// first successful auth).
func NewDeviceSignal() Signal {
	return func(_ context.Context, in Input) (float64, string) {
		if in.Device == nil {
			return 0.6, "fingerprint not previously bound to a device"
		}
		switch in.Device.Trust {
		case 2: // TrustTrusted
			return 0, "device is trusted"
		case 1: // TrustSeen
			return 0.2, "device seen before but not yet trusted"
		default:
			return 0.5, "device trust unknown"
		}
	}
}

// LocationSignal flags a geolocation estimate outside the user's known
// good countries (§4.9 inputs: "geolocation estimate, prior successful
// locations for the user").
func LocationSignal() Signal {
	return func(_ context.Context, in Input) (float64, string) {
		if in.GeoCountry == "" {
			return 0.3, "no geolocation estimate available"
		}
		if len(in.KnownGoodCountries) == 0 {
			return 0.2, "no location history for this user yet"
		}
		for _, c := range in.KnownGoodCountries {
			if c == in.GeoCountry {
				return 0, fmt.Sprintf("%s is a known location", in.GeoCountry)
			}
		}
		return 0.8, fmt.Sprintf("%s is not among this user's known locations", in.GeoCountry)
	}
}

// AccountAgeSignal treats very young accounts as higher risk, decaying
// to zero by a configurable maturity point.
func AccountAgeSignal(matureAfterDays float64) Signal {
	if matureAfterDays <= 0 {
		matureAfterDays = 30
	}
	return func(_ context.Context, in Input) (float64, string) {
		if in.AccountAge >= matureAfterDays {
			return 0, "account is mature"
		}
		if in.AccountAge <= 0 {
			return 1, "account created today"
		}
		magnitude := 1 - in.AccountAge/matureAfterDays
		return magnitude, fmt.Sprintf("account is %.1f days old", in.AccountAge)
	}
}

// VelocitySignal scores recent failed-attempt velocity, the same
// counter the lockout policy in internal/credentials consults,
// reinterpreted here as a continuous risk magnitude rather than a hard
// lockout threshold (§4.9 inputs: "recent failure velocity").
func VelocitySignal(saturatesAt int) Signal {
	if saturatesAt <= 0 {
		saturatesAt = 5
	}
	return func(_ context.Context, in Input) (float64, string) {
		if in.RecentFailureCount <= 0 {
			return 0, "no recent failures"
		}
		magnitude := float64(in.RecentFailureCount) / float64(saturatesAt)
		if magnitude > 1 {
			magnitude = 1
		}
		return magnitude, fmt.Sprintf("%d recent failed attempts", in.RecentFailureCount)
	}
}

// TimeOfDaySignal flags authentication outside the user's historical
// hours (§4.9 inputs: "time-of-day profile").
func TimeOfDaySignal() Signal {
	return func(_ context.Context, in Input) (float64, string) {
		if len(in.UsualHoursLocal) == 0 {
			return 0.1, "no time-of-day history for this user yet"
		}
		for _, h := range in.UsualHoursLocal {
			if h == in.HourOfDayLocal {
				return 0, "within usual hours"
			}
		}
		return 0.4, fmt.Sprintf("hour %d is outside usual hours", in.HourOfDayLocal)
	}
}

// KnownBadIPSignal is a hard signal: membership in a known-bad-IP list
// contributes its full weight regardless of any other evidence (§4.9
// inputs: "known-bad IP lists").
func KnownBadIPSignal() Signal {
	return func(_ context.Context, in Input) (float64, string) {
		if in.KnownBadIP {
			return 1, "source IP is on a known-bad list"
		}
		return 0, "source IP is not flagged"
	}
}

// DefaultSignals returns the weighted signal set described in spec
// §4.9's input list, in a fixed order. Weights are point contributions
// on the engine's own [0,100] scale (see Weighted), not fractions of
// 1: known_bad_ip's weight alone clears denyFloor (80) when that
// signal maxes out, matching its own doc ("contributes its full
// weight regardless of any other evidence"), while the remaining
// signals are sized so a couple of them maxing out together lands in
// the challengeFloor..denyFloor step-up band rather than requiring
// every signal to agree.
func DefaultSignals() []Weighted {
	return []Weighted{
		{Name: "known_bad_ip", Weight: 90, Fn: KnownBadIPSignal()},
		{Name: "location", Weight: 45, Fn: LocationSignal()},
		{Name: "new_device", Weight: 30, Fn: NewDeviceSignal()},
		{Name: "velocity", Weight: 20, Fn: VelocitySignal(5)},
		{Name: "account_age", Weight: 10, Fn: AccountAgeSignal(30)},
		{Name: "time_of_day", Weight: 10, Fn: TimeOfDaySignal()},
	}
}
