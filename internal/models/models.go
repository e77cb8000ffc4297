// Package models defines the persistent data shapes shared across the
// authentication core: users, credentials, devices, sessions, challenges,
// rate counters and audit events. Field layout follows the BaseModel
// convention used throughout the rest of the codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus enumerates the lifecycle states of a User.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusLocked    AccountStatus = "locked"
	StatusSuspended AccountStatus = "suspended"
	StatusDeleted   AccountStatus = "deleted"
)

// BaseModel carries the identifier and timestamps common to every
// persisted entity in this package.
type BaseModel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// User is the stable identity a Credential, Session, or Device is bound
// to. AuthSecurityVersion invalidates every access token minted before
// it was last incremented (§3, §4.10).
type User struct {
	BaseModel
	Email               string        `db:"email" json:"email"`
	DisplayName         string        `db:"display_name" json:"display_name"`
	Status              AccountStatus `db:"status" json:"status"`
	EmailVerified       bool          `db:"email_verified" json:"email_verified"`
	AuthSecurityVersion int64         `db:"auth_security_version" json:"auth_security_version"`
}

// PasswordCredential holds an Argon2id digest and its algorithm
// parameters alongside lockout bookkeeping. A User has at most one
// active PasswordCredential (§3 invariant).
type PasswordCredential struct {
	BaseModel
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	Digest          string     `db:"digest" json:"-"`
	PepperVersion   int        `db:"pepper_version" json:"-"`
	MemoryKiB       uint32     `db:"memory_kib" json:"-"`
	TimeCost        uint32     `db:"time_cost" json:"-"`
	Parallelism     uint8      `db:"parallelism" json:"-"`
	FailedAttempts  int        `db:"failed_attempts" json:"failed_attempts"`
	LockoutDeadline *time.Time `db:"lockout_deadline" json:"lockout_deadline,omitempty"`
}

// WebAuthnTransport names a transport hint advertised by a WebAuthn
// authenticator (usb, nfc, ble, internal, hybrid).
type WebAuthnTransport string

// WebAuthnCredential is one registered authenticator for a User. A User
// may have zero or more of these (§3).
type WebAuthnCredential struct {
	BaseModel
	UserID         uuid.UUID           `db:"user_id" json:"user_id"`
	CredentialID   []byte              `db:"credential_id" json:"-"`
	PublicKey      []byte              `db:"public_key" json:"-"`
	SignCounter    uint32              `db:"sign_counter" json:"sign_counter"`
	AAGUID         uuid.UUID           `db:"aaguid" json:"aaguid"`
	Attachment     string              `db:"attachment" json:"attachment"`
	Transports     []WebAuthnTransport `db:"transports" json:"transports"`
	FriendlyName   string              `db:"friendly_name" json:"friendly_name"`
	LastUsedAt     *time.Time          `db:"last_used_at" json:"last_used_at,omitempty"`
}

// TOTPEnrollment is a User's primary time-based one-time-password
// second factor. A User has at most one (§3 invariant). EncryptedSeed
// is ciphertext produced by the keystore's secret-encryption keyset.
type TOTPEnrollment struct {
	BaseModel
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	EncryptedSeed   []byte    `db:"encrypted_seed" json:"-"`
	KeyVersion      int       `db:"key_version" json:"-"`
	DriftWindows    int       `db:"drift_windows" json:"drift_windows"`
	ScratchHashes   []string  `db:"scratch_hashes" json:"-"`
}

// ContactChannel is a second-factor delivery address (email or phone).
type ContactChannel struct {
	BaseModel
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Kind     string    `db:"kind" json:"kind"` // "email" | "phone"
	Address  string    `db:"address" json:"address"`
	Verified bool      `db:"verified" json:"verified"`
}

// TrustLevel describes how much a Device has earned the right to skip
// step-up challenges.
type TrustLevel int

const (
	TrustUnknown TrustLevel = iota
	TrustSeen
	TrustTrusted
)

// Device is the stable, pseudonymous identity derived from a client
// fingerprint and bound to a User on first successful authentication
// (§3). It is distinct from the fingerprint itself, which can change
// across sessions while the Device persists (§9 Open Question).
type Device struct {
	BaseModel
	UserID         uuid.UUID  `db:"user_id" json:"user_id"`
	FingerprintHash string    `db:"fingerprint_hash" json:"-"`
	FirstSeenAt    time.Time  `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt     time.Time  `db:"last_seen_at" json:"last_seen_at"`
	Trust          TrustLevel `db:"trust" json:"trust"`
	AggregateRisk  float64    `db:"aggregate_risk" json:"aggregate_risk"`
}

// ChallengeVariant enumerates the second-factor mechanisms C8 can issue.
type ChallengeVariant string

const (
	VariantMagicLink    ChallengeVariant = "magic-link"
	VariantTOTP         ChallengeVariant = "totp"
	VariantSMSCode      ChallengeVariant = "sms-code"
	VariantEmailCode    ChallengeVariant = "email-code"
	VariantWebAuthnGet  ChallengeVariant = "webauthn-get"
	VariantWebAuthnNew  ChallengeVariant = "webauthn-create"
)

// Challenge is a one-shot, time-bound proof of second-factor possession
// (§3). It is consumed at most once, either on successful verification
// or on exhausting MaxAttempts.
type Challenge struct {
	ID               uuid.UUID        `json:"id"`
	Variant          ChallengeVariant `json:"variant"`
	SubjectUserID    *uuid.UUID       `json:"subject_user_id,omitempty"`
	DeviceFingerprint string          `json:"-"`
	Payload          []byte           `json:"-"`
	IssuedAt         time.Time        `json:"issued_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	Consumed         bool             `json:"consumed"`
	Attempts         int              `json:"attempts"`
	MaxAttempts      int              `json:"max_attempts"`
}

// Expired reports whether the challenge's validity window has passed at
// the given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Exhausted reports whether the challenge has used up its attempt
// budget.
func (c *Challenge) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// AuthFactor is a bit in the authenticated-factors bitset carried by
// access tokens and sessions.
type AuthFactor uint8

const (
	FactorKnowledge AuthFactor = 1 << iota // password
	FactorPossession                       // magic link / webauthn / sms
	FactorInherence                        // TOTP / biometric-backed webauthn
)

// Has reports whether bitset b includes factor f.
func (b AuthFactor) Has(f AuthFactor) bool { return b&f != 0 }

// TerminationReason records why a Session stopped being live.
type TerminationReason string

const (
	ReasonUserLogout      TerminationReason = "user_logout"
	ReasonLogoutAll       TerminationReason = "logout_all"
	ReasonRefreshReuse    TerminationReason = "refresh_reuse"
	ReasonExpired         TerminationReason = "expired"
	ReasonSecurityVersion TerminationReason = "security_version_bump"
	ReasonAdminRevoke     TerminationReason = "admin_revoke"
)

// Session is a live authentication context reachable from both the
// owning user and its refresh-token family (§3 invariant).
type Session struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	UserID             uuid.UUID         `db:"user_id" json:"user_id"`
	DeviceID           uuid.UUID         `db:"device_id" json:"device_id"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	LastSeenAt         time.Time         `db:"last_seen_at" json:"last_seen_at"`
	AccessExpiresAt    time.Time         `db:"access_expires_at" json:"access_expires_at"`
	FamilyID           uuid.UUID         `db:"family_id" json:"family_id"`
	Generation         int64             `db:"generation" json:"generation"`
	RefreshHash        string            `db:"refresh_hash" json:"-"`
	RefreshExpiresAt   time.Time         `db:"refresh_expires_at" json:"refresh_expires_at"`
	AbsoluteExpiresAt  time.Time         `db:"absolute_expires_at" json:"absolute_expires_at"`
	Revoked            bool              `db:"revoked" json:"revoked"`
	TerminationReason  TerminationReason `db:"termination_reason" json:"termination_reason,omitempty"`
	IssuingIP          string            `db:"issuing_ip" json:"issuing_ip"`
	UserAgent          string            `db:"user_agent" json:"user_agent"`
	RiskAtIssue        float64           `db:"risk_at_issue" json:"risk_at_issue"`
	Factors            AuthFactor        `db:"factors" json:"factors"`
}

// Live reports whether the session is usable at instant now: neither
// revoked nor past its refresh-token expiry.
func (s *Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.RefreshExpiresAt) && now.Before(s.AbsoluteExpiresAt)
}

// RateDimension names what a RateCounter is keyed by.
type RateDimension string

// RateCounter is a sliding-window counter keyed by (dimension, route
// class). Ephemeral: self-destructs at window end (§3).
type RateCounter struct {
	Dimension  RateDimension `json:"dimension"`
	RouteClass string        `json:"route_class"`
	WindowEnd  time.Time     `json:"window_end"`
	Count      int           `json:"count"`
}

// AuthEventType enumerates the structured events C11 emits (§4.11).
type AuthEventType string

const (
	EventLoginSucceeded   AuthEventType = "login.succeeded"
	EventLoginFailed      AuthEventType = "login.failed"
	EventMFAIssued        AuthEventType = "mfa.issued"
	EventMFAVerified      AuthEventType = "mfa.verified"
	EventMFAFailed        AuthEventType = "mfa.failed"
	EventTokenMinted      AuthEventType = "token.minted"
	EventTokenRefreshed   AuthEventType = "token.refreshed"
	EventRefreshReused    AuthEventType = "refresh.reused"
	EventSessionRevoked   AuthEventType = "session.revoked"
	EventAccountLocked    AuthEventType = "account.locked"
	EventCredentialAdded  AuthEventType = "credential.added"
	EventCredentialRemove AuthEventType = "credential.removed"
	EventRiskDenied       AuthEventType = "risk.denied"
	EventRateLimited      AuthEventType = "rate.limited"
)

// AuthEvent is an append-only, never-mutated audit record (§3, §4.11).
type AuthEvent struct {
	ID            int64                  `json:"id"`
	Type          AuthEventType          `json:"type"`
	ActorUserID   *uuid.UUID             `json:"actor_user_id,omitempty"`
	DeviceID      *uuid.UUID             `json:"device_id,omitempty"`
	Outcome       string                 `json:"outcome"`
	CorrelationID string                 `json:"correlation_id"`
	Critical      bool                   `json:"critical"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}
