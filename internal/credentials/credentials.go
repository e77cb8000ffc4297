// Package credentials implements the Credential Registry (C7):
// per-user storage of PasswordCredential, WebAuthnCredential,
// TOTPEnrollment and ContactChannel records, enforcing the
// at-most-one invariants from spec §3 and the lockout policy from
// §4.7.
//
// Grounded on the teacher's shared/repository.BaseRepository pattern
// (sqlx NamedExecContext writes, logx-wrapped errors), generalized the
// same way internal/sessions did for PostgresStore. Secret-bearing
// fields (TOTP seeds, scratch codes) are sealed through the keystore's
// encryption keyset before being handed to a Registry implementation,
// consistent with §4.7: "Writes are encrypted at rest via C2 for
// secret-bearing fields."
package credentials

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/models"
)

// Registry is the Credential Registry's external contract (§4.7).
type Registry interface {
	FindPasswordFor(ctx context.Context, userID uuid.UUID) (*models.PasswordCredential, error)
	UpsertPassword(ctx context.Context, cred *models.PasswordCredential) error

	ListWebAuthnFor(ctx context.Context, userID uuid.UUID) ([]*models.WebAuthnCredential, error)
	FindWebAuthnByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error)
	AddWebAuthn(ctx context.Context, cred *models.WebAuthnCredential) error
	UpdateWebAuthnCounter(ctx context.Context, credentialPK uuid.UUID, counter uint32, lastUsed time.Time) error
	RemoveWebAuthn(ctx context.Context, credentialPK uuid.UUID) error

	FindTOTPFor(ctx context.Context, userID uuid.UUID) (*models.TOTPEnrollment, error)
	UpsertTOTP(ctx context.Context, enrollment *models.TOTPEnrollment) error
	RemoveTOTP(ctx context.Context, userID uuid.UUID) error

	ListContactChannels(ctx context.Context, userID uuid.UUID) ([]*models.ContactChannel, error)

	// RecordFailure increments the user's password failed-attempt
	// counter and, once the lockout threshold is crossed, sets a
	// lockout deadline per the exponential policy in LockoutDuration.
	// It returns the credential's state after the update.
	RecordFailure(ctx context.Context, userID uuid.UUID, policy LockoutPolicy, now time.Time) (*models.PasswordCredential, error)

	// RecordSuccess resets the failed-attempt counter and clears any
	// lockout deadline.
	RecordSuccess(ctx context.Context, userID uuid.UUID) error
}

// LockoutPolicy configures §4.7's exponential-backoff lockout: after
// Threshold consecutive failures, the account locks for BaseDuration *
// 2^(failures-threshold), capped at Cap.
type LockoutPolicy struct {
	Threshold    int
	BaseDuration time.Duration
	Cap          time.Duration
}

// DefaultLockoutPolicy matches the conservative defaults implied by §6.
var DefaultLockoutPolicy = LockoutPolicy{
	Threshold:    5,
	BaseDuration: time.Minute,
	Cap:          24 * time.Hour,
}

// LockoutDuration computes how long an account locks for after
// failedAttempts consecutive failures under policy. It returns zero
// while failedAttempts is below the threshold — the account is not yet
// locked. This is a pure function so it's trivially table-tested
// without a store.
func LockoutDuration(policy LockoutPolicy, failedAttempts int) time.Duration {
	if failedAttempts < policy.Threshold {
		return 0
	}
	overBy := failedAttempts - policy.Threshold
	d := policy.BaseDuration
	for i := 0; i < overBy; i++ {
		d *= 2
		if d >= policy.Cap {
			return policy.Cap
		}
	}
	if d > policy.Cap {
		return policy.Cap
	}
	return d
}

// IsLocked reports whether cred is presently within its lockout
// window at instant now. Lockout is orthogonal to the rate limiter
// (§4.7): it targets the credential, not the request rate.
func IsLocked(cred *models.PasswordCredential, now time.Time) bool {
	return cred.LockoutDeadline != nil && now.Before(*cred.LockoutDeadline)
}
