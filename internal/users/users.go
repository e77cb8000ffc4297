// Package users implements the durable User and Device directory that
// backs the Authentication Orchestrator's lookups (spec §6 durable
// tier: "Users, Credentials, WebAuthnCredentials, AuthEvents"; §3
// Device: "bound to a User on first successful authentication").
//
// Grounded the same way internal/sessions and internal/credentials
// were: the teacher's shared/repository.BaseRepository sqlx pattern,
// generalized to the auth-core's own User/Device shapes rather than
// the teacher's Habit/Goal/Article rows.
package users

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/models"
)

// Directory is the user- and device-lookup contract the orchestrator
// depends on. User-not-found must be indistinguishable in timing from
// a password mismatch at the caller (§8); Directory itself just
// reports the miss, the orchestrator is responsible for the
// constant-time framing.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// FindDeviceByFingerprint looks up the Device bound to userID with
	// the given fingerprint hash, if any.
	FindDeviceByFingerprint(ctx context.Context, userID uuid.UUID, fingerprintHash string) (*models.Device, error)

	// BindDevice records a newly-seen fingerprint against userID,
	// creating the Device on first sight (§3: "bound to a User on first
	// successful authentication") or touching LastSeenAt on repeat
	// sight. It never silently overwrites an existing device's
	// TrustLevel downward.
	BindDevice(ctx context.Context, userID uuid.UUID, fingerprintHash string, now time.Time) (*models.Device, error)

	// PromoteDeviceTrust advances a Device's TrustLevel, e.g. after an
	// explicit "remember this device" decision on successful step-up
	// (§4.10 edge cases).
	PromoteDeviceTrust(ctx context.Context, deviceID uuid.UUID, trust models.TrustLevel) error

	// RecordDeviceRisk updates the Device's aggregate_risk figure,
	// feeding the slow trust-bump the spec describes ("a successful
	// login on a new device bumps that device's trust slowly").
	RecordDeviceRisk(ctx context.Context, deviceID uuid.UUID, risk float64) error
}
