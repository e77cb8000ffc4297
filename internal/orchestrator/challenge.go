package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/challenges"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/ratelimit"
)

// issueStepUpChallenge picks a second-factor variant for userID,
// preferring TOTP (possession of an authenticator app survives SIM
// swaps, unlike sms-code) and falling back to whatever verified
// contact channel is on file (§4.10.1 stepup branch).
func (o *Orchestrator) issueStepUpChallenge(ctx context.Context, userID uuid.UUID, fpHash string) (*models.Challenge, error) {
	if enrollment, err := o.deps.Credentials.FindTOTPFor(ctx, userID); err == nil && enrollment != nil {
		return o.deps.Challenges.Issue(ctx, challenges.IssueParams{
			Variant:           models.VariantTOTP,
			SubjectUserID:     &userID,
			DeviceFingerprint: fpHash,
			MaxAttempts:       challenges.DefaultMaxAttempts,
		})
	}

	channels, err := o.deps.Credentials.ListContactChannels(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list contact channels: %w", err)
	}
	for _, ch := range channels {
		if !ch.Verified {
			continue
		}
		code, err := challenges.GenerateNumericCode(6)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: generate code: %w", err)
		}
		variant := models.VariantEmailCode
		if ch.Kind == "phone" {
			variant = models.VariantSMSCode
		}
		c, err := o.deps.Challenges.Issue(ctx, challenges.IssueParams{
			Variant:           variant,
			SubjectUserID:     &userID,
			DeviceFingerprint: fpHash,
			Payload:           challenges.HashSecret(code),
		})
		if err != nil {
			return nil, err
		}
		// The code itself is delivered out of band (SMS/email send is
		// a transport-layer concern, out of scope here per §1); only
		// its hash is ever persisted.
		o.emit(models.AuthEvent{Type: models.EventMFAIssued, ActorUserID: &userID, Outcome: string(variant)})
		return c, nil
	}

	return nil, fmt.Errorf("%w: no usable second factor enrolled", autherrors.ErrInvariantViolation)
}

// ResolveMFA implements §4.10.2: rate-limit, verify the challenge
// response through C8, and on success mint tokens with the possession
// factor added to the bitset (and inherence as well, for TOTP).
func (o *Orchestrator) ResolveMFA(ctx context.Context, challengeID uuid.UUID, variant models.ChallengeVariant, code string, userID uuid.UUID, deviceFingerprint, sourceIP, userAgent string) AuthOutcome {
	correlationID := uuid.New().String()

	class := ratelimit.ClassTOTPVerify
	if variant == models.VariantMagicLink {
		class = ratelimit.ClassMagicLinkIssue
	}
	if _, err := o.deps.RateLimiter.Check(ctx, class, userID.String()); err != nil {
		if errors.Is(err, autherrors.ErrRateLimited) {
			return AuthOutcome{Kind: OutcomeRateLimited}
		}
		return o.temporaryFailure(correlationID, "rate limiter unavailable", err)
	}

	matcher, err := o.matcherFor(ctx, variant, userID)
	if err != nil {
		return o.temporaryFailure(correlationID, "matcher construction failed", err)
	}

	_, verr := o.deps.Challenges.Verify(ctx, challengeID, []byte(code), matcher)
	if verr != nil {
		o.emit(models.AuthEvent{Type: models.EventMFAFailed, ActorUserID: &userID, Outcome: verr.Error(), CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "challenge_failed"}
	}

	user, err := o.deps.Users.FindUserByID(ctx, userID)
	if err != nil {
		return o.temporaryFailure(correlationID, "user lookup failed", err)
	}
	fpHash := hashFingerprint(deviceFingerprint)
	device, err := o.deps.Users.BindDevice(ctx, userID, fpHash, o.now())
	if err != nil {
		return o.temporaryFailure(correlationID, "device bind failed", err)
	}

	factors := models.FactorKnowledge | models.FactorPossession
	if variant == models.VariantTOTP {
		factors |= models.FactorInherence
	}

	outcome, err := o.mint(ctx, user, device, factors, 0, sourceIP, userAgent)
	if err != nil {
		return o.temporaryFailure(correlationID, "mint failed", err)
	}
	o.emit(models.AuthEvent{Type: models.EventMFAVerified, ActorUserID: &userID, DeviceID: &device.ID, Outcome: "success", CorrelationID: correlationID})
	return outcome
}

// decryptTOTPSeed opens a TOTPEnrollment's encrypted seed via the key
// store's secret-encryption keyset (§4.7: "secret-bearing fields" are
// sealed at rest; decryption happens here, at the point of use, never
// earlier).
func (o *Orchestrator) decryptTOTPSeed(enrollment *models.TOTPEnrollment) (string, error) {
	plaintext, err := o.deps.Keys.Open(enrollment.EncryptedSeed, enrollment.KeyVersion)
	if err != nil {
		return "", fmt.Errorf("orchestrator: open totp seed: %w", err)
	}
	return string(plaintext), nil
}

// matcherFor resolves the variant-specific challenges.Matcher needed
// to verify a presented response, fetching whatever credential state
// that variant needs from the Credential Registry.
func (o *Orchestrator) matcherFor(ctx context.Context, variant models.ChallengeVariant, userID uuid.UUID) (challenges.Matcher, error) {
	switch variant {
	case models.VariantTOTP:
		enrollment, err := o.deps.Credentials.FindTOTPFor(ctx, userID)
		if err != nil {
			return nil, err
		}
		seed, err := o.decryptTOTPSeed(enrollment)
		if err != nil {
			return nil, err
		}
		return challenges.TOTPMatcher(seed, enrollment.DriftWindows), nil
	case models.VariantMagicLink:
		return challenges.MagicLinkMatcher(), nil
	default: // sms-code, email-code
		return challenges.CodeMatcher(), nil
	}
}

// BeginPasswordless implements §6's BeginPasswordless: issue a
// magic-link challenge and hand back its identifier plus delivery
// channel, never the secret itself (the secret is delivered out of
// band by the caller's transport layer).
func (o *Orchestrator) BeginPasswordless(ctx context.Context, email, deviceFingerprint string) (challengeID uuid.UUID, deliveredVia string, err error) {
	user, err := o.deps.Users.FindUserByEmail(ctx, email)
	if err != nil {
		// Same enumeration-prevention shape as Authenticate: issue a
		// challenge that can never be resolved rather than reporting
		// the miss, so the caller sees identical behavior either way.
		raw, hash, genErr := challenges.GenerateMagicLinkSecret()
		_ = raw
		if genErr != nil {
			return uuid.UUID{}, "", genErr
		}
		c, issueErr := o.deps.Challenges.Issue(ctx, challenges.IssueParams{Variant: models.VariantMagicLink, Payload: hash, DeviceFingerprint: hashFingerprint(deviceFingerprint)})
		if issueErr != nil {
			return uuid.UUID{}, "", issueErr
		}
		return c.ID, "email", nil
	}

	raw, hash, err := challenges.GenerateMagicLinkSecret()
	if err != nil {
		return uuid.UUID{}, "", err
	}
	c, err := o.deps.Challenges.Issue(ctx, challenges.IssueParams{
		Variant:           models.VariantMagicLink,
		SubjectUserID:     &user.ID,
		DeviceFingerprint: hashFingerprint(deviceFingerprint),
		Payload:           hash,
		TTL:               o.ttl.MagicLinkTTL,
	})
	if err != nil {
		return uuid.UUID{}, "", err
	}
	logx.Infof("orchestrator: issued magic-link challenge %s for %s (secret delivered out of band)", c.ID, email)
	_ = raw // delivered to the user by the transport layer, never logged (§6)
	o.emit(models.AuthEvent{Type: models.EventMFAIssued, ActorUserID: &user.ID, Outcome: "magic-link issued"})
	return c.ID, "email", nil
}

// CompletePasswordless implements §6's CompletePasswordless: resolve
// the magic-link challenge and mint tokens on success.
func (o *Orchestrator) CompletePasswordless(ctx context.Context, challengeID uuid.UUID, secret, deviceFingerprint, sourceIP, userAgent string) AuthOutcome {
	correlationID := uuid.New().String()

	c, err := o.deps.Challenges.Verify(ctx, challengeID, []byte(secret), challenges.MagicLinkMatcher())
	if err != nil {
		o.emit(models.AuthEvent{Type: models.EventMFAFailed, Outcome: err.Error(), CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "challenge_failed"}
	}
	if c.SubjectUserID == nil {
		// Decoy challenge issued for a nonexistent email (enumeration
		// guard in BeginPasswordless): it can verify structurally but
		// has no user to mint a session for.
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	}

	user, err := o.deps.Users.FindUserByID(ctx, *c.SubjectUserID)
	if err != nil {
		return o.temporaryFailure(correlationID, "user lookup failed", err)
	}
	fpHash := hashFingerprint(deviceFingerprint)
	device, err := o.deps.Users.BindDevice(ctx, user.ID, fpHash, o.now())
	if err != nil {
		return o.temporaryFailure(correlationID, "device bind failed", err)
	}

	outcome, err := o.mint(ctx, user, device, models.FactorPossession, 0, sourceIP, userAgent)
	if err != nil {
		return o.temporaryFailure(correlationID, "mint failed", err)
	}
	o.emit(models.AuthEvent{Type: models.EventLoginSucceeded, ActorUserID: &user.ID, DeviceID: &device.ID, Outcome: "passwordless success", CorrelationID: correlationID})
	return outcome
}
