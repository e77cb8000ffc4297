// Package orchestrator implements the Authentication Orchestrator
// (C10): the per-request state machine that composes the Password
// Hasher (C1), Key Store (C2), Token Service (C3), Cache Substrate
// (C4), Rate Limiter (C5), Session Store (C6), Credential Registry
// (C7), Challenge Broker (C8), and Risk Engine (C9) into the external
// request surface named in spec §6, emitting through the Audit/Event
// Emitter (C11) at every material outcome (spec §4.10).
//
// Grounded on the re-architecture note in spec §9 ("per-request
// dependency injection... maps to an interface bundle passed by value
// to orchestrator calls") and on
// kamaljohnson-zero-trust-control-plane/backend/internal/identity_service/auth_service.go's
// shape: a single service struct holding narrow repository interfaces
// (UserRepo, SessionRepo, DeviceRepo, ...) plus a discriminated result
// type (AuthResult / LoginResult / MFARequiredResult) rather than a
// a grab-bag of booleans and out-parameters. The teacher's own
// domain/auth.authManager (golang-jwt wrapping, constructor-over-config
// shape) supplies the surrounding style: small exported constructor,
// unexported struct, method-per-operation.
package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/audit"
	"github.com/shieldgate/authcore/internal/cache"
	"github.com/shieldgate/authcore/internal/challenges"
	"github.com/shieldgate/authcore/internal/credentials"
	"github.com/shieldgate/authcore/internal/hasher"
	"github.com/shieldgate/authcore/internal/keystore"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/ratelimit"
	"github.com/shieldgate/authcore/internal/risk"
	"github.com/shieldgate/authcore/internal/sessions"
	"github.com/shieldgate/authcore/internal/tokens"
	"github.com/shieldgate/authcore/internal/users"
)

// Dependencies bundles every component the Orchestrator composes. It
// is passed by value to New, not stored piecemeal, so construction
// sites read as one explicit wiring list rather than a long
// constructor argument chain (§9's "interface bundle" translation).
type Dependencies struct {
	Users       users.Directory
	Credentials credentials.Registry
	Sessions    sessions.Store
	Challenges  *challenges.Broker
	Risk        *risk.Engine
	RateLimiter *ratelimit.Limiter
	Hasher      *hasher.Hasher
	Keys        *keystore.Store
	Tokens      *tokens.Service
	Cache       *cache.Substrate
	Audit       *audit.Emitter

	// Clock is substituted with a fixed function in tests. Only the
	// orchestrator reads it; internal/breaker takes its own
	// clockwork.Clock.
	Clock func() time.Time
}

// TTLConfig carries the token/challenge/session lifetimes recognized
// per §6. Risk thresholds live on the injected risk.Engine; lockout
// policy lives on the injected credentials.Registry calls.
type TTLConfig struct {
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	AbsoluteSessionLifetime time.Duration
	MagicLinkTTL            time.Duration
	CodeTTL                 time.Duration
	TOTPDriftWindows        int
}

// DefaultTTLConfig matches the §6 documented defaults.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		AccessTokenTTL:          time.Hour,
		RefreshTokenTTL:         30 * 24 * time.Hour,
		AbsoluteSessionLifetime: 90 * 24 * time.Hour,
		MagicLinkTTL:            15 * time.Minute,
		CodeTTL:                 5 * time.Minute,
		TOTPDriftWindows:        1,
	}
}

// Orchestrator is the C10 state machine. It holds no per-request
// state; every method takes its request's inputs as arguments and
// returns a discriminated AuthOutcome (or a narrower result type for
// operations that don't produce tokens).
type Orchestrator struct {
	deps Dependencies
	ttl  TTLConfig
}

// New constructs an Orchestrator. deps.Clock defaults to time.Now if
// nil.
func New(deps Dependencies, ttl TTLConfig) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{deps: deps, ttl: ttl}
}

func (o *Orchestrator) now() time.Time { return o.deps.Clock() }

// OutcomeKind discriminates AuthOutcome (§6: "AuthOutcome discriminates
// {success, challengeRequired, denied, rateLimited, temporaryFailure}").
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeChallengeRequired OutcomeKind = "challenge_required"
	OutcomeDenied           OutcomeKind = "denied"
	OutcomeRateLimited      OutcomeKind = "rate_limited"
	OutcomeTemporaryFailure OutcomeKind = "temporary_failure"
)

// Tokens is the minted credential pair returned on OutcomeSuccess.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AuthOutcome is the external result of every flow that can mint or
// deny a session (§6). Exactly one of the payload fields is populated,
// keyed by Kind; this mirrors the "tagged result variants on critical
// paths" translation in §9 rather than a sentinel-error-per-branch
// style, since several of these outcomes are not actually exceptional
// (a step-up challenge is the expected shape of a risky-but-legitimate
// login).
type AuthOutcome struct {
	Kind OutcomeKind

	// OutcomeSuccess
	Tokens  Tokens
	User    *models.User
	Session *models.Session
	Factors models.AuthFactor

	// OutcomeChallengeRequired
	ChallengeID uuid.UUID
	Variant     models.ChallengeVariant
	DeliveredVia string

	// OutcomeDenied
	DeniedReason string

	// OutcomeRateLimited
	ResetAt time.Time
}
