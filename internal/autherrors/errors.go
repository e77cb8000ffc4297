// Package autherrors defines the external error taxonomy shared across
// the authentication core (spec §7). Components return these sentinels
// (optionally wrapped with fmt.Errorf("...: %w", ...) for internal
// detail) so the orchestrator and its callers can discriminate on
// errors.Is without depending on any single component's internal types.
package autherrors

import "errors"

var (
	// ErrInvalidCredential is returned uniformly for user-not-found and
	// password-mismatch to prevent user enumeration (§7, §8).
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrLegacyAlgorithm is returned by the password hasher when a
	// stored digest uses a retired algorithm that must be rejected
	// rather than verified (§4.1).
	ErrLegacyAlgorithm = errors.New("legacy password algorithm")

	// ErrAccountLocked indicates credential-level lockout is in effect.
	ErrAccountLocked = errors.New("account locked")

	// ErrRateLimited indicates the request rate exceeded the allowance
	// for its route class.
	ErrRateLimited = errors.New("rate limited")

	// ErrChallengeRequired signals the orchestrator demands a step-up.
	ErrChallengeRequired = errors.New("challenge required")

	ErrChallengeExpired            = errors.New("challenge expired")
	ErrChallengeAlreadyConsumed    = errors.New("challenge already consumed")
	ErrChallengeAttemptsExhausted  = errors.New("challenge attempts exhausted")

	ErrTokenExpired              = errors.New("token expired")
	ErrTokenSignatureInvalid    = errors.New("token signature invalid")
	ErrTokenRevoked             = errors.New("token revoked")

	ErrRefreshReused  = errors.New("refresh token reused")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshUnknown = errors.New("refresh token unknown")

	// ErrRiskDenied indicates the risk engine produced a deny decision.
	ErrRiskDenied = errors.New("risk denied")

	// ErrDependencyUnavailable indicates a required downstream is
	// unreachable with no safe fallback.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrTemporaryFailure indicates a transient error worth retrying.
	ErrTemporaryFailure = errors.New("temporary failure")

	// ErrInvariantViolation indicates an internal contract breach; the
	// request is aborted and a critical audit event is emitted.
	ErrInvariantViolation = errors.New("invariant violation")
)
