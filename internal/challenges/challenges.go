// Package challenges implements the Challenge Broker (C8): issuance,
// storage, and variant-specific verification of the one-shot,
// time-bound proofs described in spec §3 and §4.8 — magic links,
// SMS/email codes, TOTP, and WebAuthn assertions/attestations.
//
// The broker's core (Issue/Verify) is variant-agnostic: it owns the
// consume-once serialization and attempt-counting contract, and calls
// out to a small per-variant Matcher to decide whether the presented
// secret is correct. This mirrors the dedicated-verifier-per-variant
// shape spec'd in §4.8 while keeping the concurrency-sensitive part
// (§8: "Concurrent verifications serialize on the challenge ID; the
// first to consume wins") written exactly once, grounded on the same
// compare-and-swap discipline internal/sessions uses for refresh
// rotation.
package challenges

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

// Store is the Challenge Broker's persistence contract. WithLock must
// serialize concurrent calls for the same id: the callback observes
// the challenge's current state and returns the state to persist (or
// an error, in which case nothing is written). Implementations are
// free to use an in-process mutex (MemoryStore) or a Redis
// compare-and-swap transaction (RedisStore) to provide that guarantee.
type Store interface {
	Create(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	WithLock(ctx context.Context, id uuid.UUID, fn func(c *models.Challenge) (*models.Challenge, error)) error
}

// Matcher decides whether presented proves possession of challenge c's
// secret. It must not mutate c. Matchers never see the full Store —
// only the payload they need — so they stay independently testable.
type Matcher func(c *models.Challenge, presented []byte) (bool, error)

// DefaultTTLs gives the per-variant challenge lifetime named in §3
// ("a few minutes, configurable per variant").
var DefaultTTLs = map[models.ChallengeVariant]time.Duration{
	models.VariantMagicLink:   15 * time.Minute,
	models.VariantTOTP:        5 * time.Minute,
	models.VariantSMSCode:     5 * time.Minute,
	models.VariantEmailCode:   5 * time.Minute,
	models.VariantWebAuthnGet: 2 * time.Minute,
	models.VariantWebAuthnNew: 2 * time.Minute,
}

// DefaultMaxAttempts is the §4.8 default for code-style challenges.
const DefaultMaxAttempts = 5

// Broker issues and verifies Challenges (C8).
type Broker struct {
	store Store
}

// New constructs a Broker over store.
func New(store Store) *Broker {
	return &Broker{store: store}
}

// IssueParams bundles the arguments to Issue.
type IssueParams struct {
	Variant           models.ChallengeVariant
	SubjectUserID      *uuid.UUID
	DeviceFingerprint string
	Payload           []byte
	TTL               time.Duration // zero uses DefaultTTLs[Variant]
	MaxAttempts       int           // zero uses DefaultMaxAttempts, except magic-link which is single-attempt
}

// Issue creates and persists a new Challenge.
func (b *Broker) Issue(ctx context.Context, params IssueParams) (*models.Challenge, error) {
	ttl := params.TTL
	if ttl == 0 {
		ttl = DefaultTTLs[params.Variant]
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
		if params.Variant == models.VariantMagicLink {
			maxAttempts = 1
		}
	}

	now := time.Now().UTC()
	c := &models.Challenge{
		ID:                uuid.New(),
		Variant:           params.Variant,
		SubjectUserID:     params.SubjectUserID,
		DeviceFingerprint: params.DeviceFingerprint,
		Payload:           params.Payload,
		IssuedAt:          now,
		ExpiresAt:         now.Add(ttl),
		MaxAttempts:       maxAttempts,
	}
	if err := b.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("challenges: create: %w", err)
	}
	return c, nil
}

// Verify attempts to resolve challenge id with presented, using match
// to decide correctness. It enforces, under the Store's per-id lock:
// expiry, consumption state, and the attempt budget — exactly once per
// call, regardless of how many goroutines call Verify concurrently for
// the same id (§4.8, §8).
func (b *Broker) Verify(ctx context.Context, id uuid.UUID, presented []byte, match Matcher) (*models.Challenge, error) {
	var result *models.Challenge
	var verifyErr error

	err := b.store.WithLock(ctx, id, func(c *models.Challenge) (*models.Challenge, error) {
		now := time.Now().UTC()
		if c.Consumed {
			verifyErr = autherrors.ErrChallengeAlreadyConsumed
			return c, nil
		}
		if c.Expired(now) {
			verifyErr = autherrors.ErrChallengeExpired
			return c, nil
		}
		if c.Exhausted() {
			c.Consumed = true
			verifyErr = autherrors.ErrChallengeAttemptsExhausted
			return c, nil
		}

		ok, err := match(c, presented)
		if err != nil {
			verifyErr = err
			return c, nil
		}

		c.Attempts++
		if ok {
			c.Consumed = true
			result = c
			return c, nil
		}

		if c.Exhausted() {
			c.Consumed = true
			verifyErr = autherrors.ErrChallengeAttemptsExhausted
			return c, nil
		}
		verifyErr = autherrors.ErrInvalidCredential
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("challenges: verify: %w", err)
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	return result, nil
}

// GenerateMagicLinkSecret produces a high-entropy, URL-safe secret for
// a magic-link challenge, returning both the raw secret (delivered to
// the user out of band) and its hash (the Payload stored in the
// challenge — §6: "the raw secret is never logged").
func GenerateMagicLinkSecret() (raw string, hash []byte, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("challenges: generate magic link secret: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashSecret(raw), nil
}

// GenerateNumericCode produces a digits-length numeric code for
// sms-code/email-code challenges, e.g. "483920" for digits=6.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	max := 1
	for i := 0; i < digits; i++ {
		max *= 10
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenges: generate numeric code: %w", err)
	}
	n := (int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])) % max
	if n < 0 {
		n = -n
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
