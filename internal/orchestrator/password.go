package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/credentials"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/ratelimit"
	"github.com/shieldgate/authcore/internal/risk"
)

// hashFingerprint turns a client-supplied device fingerprint into the
// stable, non-reversible identity Device records are keyed by (§3:
// "a pseudonymous identity derived from a stable client-provided
// fingerprint").
func hashFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate implements §4.10.1's password-login state machine:
// rate-limit -> lookup -> lockout check -> verify -> risk -> mint/
// challenge/deny.
func (o *Orchestrator) Authenticate(ctx context.Context, email, password, deviceFingerprint, sourceIP, userAgent string) AuthOutcome {
	correlationID := uuid.New().String()
	dimension := sourceIP + "|" + email

	// [START] -> rate-limit(password-auth) -> [CHECKED]
	decision, err := o.deps.RateLimiter.Check(ctx, ratelimit.ClassPasswordAuth, dimension)
	if errors.Is(err, autherrors.ErrRateLimited) {
		o.emit(models.AuthEvent{Type: models.EventRateLimited, Outcome: "password-auth rate limited", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeRateLimited, ResetAt: decision.ResetAt}
	}
	if err != nil {
		return o.temporaryFailure(correlationID, "rate limiter unavailable", err)
	}

	// [CHECKED] -> lookup user -> [FOUND] (miss -> InvalidCredential,
	// constant-time with password-mismatch per §8).
	user, lookupErr := o.findUserConstantTime(ctx, email, password)
	if lookupErr != nil {
		o.emit(models.AuthEvent{Type: models.EventLoginFailed, Outcome: "invalid credential", CorrelationID: correlationID, Details: map[string]interface{}{"email": email}})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	}

	// [FOUND] -> check lockout -> [UNLOCKED]
	cred, err := o.deps.Credentials.FindPasswordFor(ctx, user.ID)
	if err != nil {
		return o.temporaryFailure(correlationID, "credential lookup failed", err)
	}
	if credentials.IsLocked(cred, o.now()) {
		o.emit(models.AuthEvent{Type: models.EventAccountLocked, ActorUserID: &user.ID, Outcome: "locked", CorrelationID: correlationID, Critical: true})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "account_locked"}
	}

	// [UNLOCKED] -> verify password via C1 -> [VERIFIED]
	matches, needsRehash, verr := o.deps.Hasher.Verify(password, cred.Digest)
	if verr != nil && !errors.Is(verr, autherrors.ErrInvalidCredential) && !errors.Is(verr, autherrors.ErrLegacyAlgorithm) {
		return o.temporaryFailure(correlationID, "hasher error", verr)
	}
	if !matches {
		if _, err := o.deps.Credentials.RecordFailure(ctx, user.ID, credentials.DefaultLockoutPolicy, o.now()); err != nil {
			logx.Errorf("orchestrator: record failure: %v", err)
		}
		o.emit(models.AuthEvent{Type: models.EventLoginFailed, ActorUserID: &user.ID, Outcome: "invalid credential", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	}
	if needsRehash {
		if rehashed, err := o.deps.Hasher.Hash(password, freshSalt()); err == nil {
			cred.Digest = rehashed
			if err := o.deps.Credentials.UpsertPassword(ctx, cred); err != nil {
				logx.Errorf("orchestrator: rehash persist failed: %v", err)
			}
		}
	}
	if err := o.deps.Credentials.RecordSuccess(ctx, user.ID); err != nil {
		logx.Errorf("orchestrator: record success: %v", err)
	}

	fpHash := hashFingerprint(deviceFingerprint)
	device, bindErr := o.deps.Users.BindDevice(ctx, user.ID, fpHash, o.now())
	if bindErr != nil {
		return o.temporaryFailure(correlationID, "device bind failed", bindErr)
	}

	// [VERIFIED] -> compute risk via C9 -> [SCORED]
	score := o.deps.Risk.Evaluate(ctx, risk.Input{
		UserID:            user.ID.String(),
		DeviceFingerprint: fpHash,
		SourceIP:          sourceIP,
		Device:            device,
	})

	switch score.Decision {
	case risk.Deny:
		o.emit(models.AuthEvent{Type: models.EventRiskDenied, ActorUserID: &user.ID, Outcome: "risk denied", CorrelationID: correlationID, Critical: true,
			Details: map[string]interface{}{"score": score.Value}})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "risk_denied"}

	case risk.StepUp:
		c, err := o.issueStepUpChallenge(ctx, user.ID, fpHash)
		if err != nil {
			return o.temporaryFailure(correlationID, "issue challenge failed", err)
		}
		o.emit(models.AuthEvent{Type: models.EventMFAIssued, ActorUserID: &user.ID, DeviceID: &device.ID, Outcome: "step-up required", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeChallengeRequired, ChallengeID: c.ID, Variant: c.Variant, DeliveredVia: string(c.Variant)}

	default: // risk.Allow
		outcome, err := o.mint(ctx, user, device, models.FactorKnowledge, score.Value, sourceIP, userAgent)
		if err != nil {
			return o.temporaryFailure(correlationID, "mint failed", err)
		}
		o.emit(models.AuthEvent{Type: models.EventLoginSucceeded, ActorUserID: &user.ID, DeviceID: &device.ID, Outcome: "success", CorrelationID: correlationID})
		return outcome
	}
}

// findUserConstantTime implements §8's constant-time law: whether the
// email is unknown or the password is wrong, the caller takes the same
// branch shape and emits the same external outcome. Both paths run a
// password verification (against a fixed dummy digest when the user
// doesn't exist) so the two cases cost the same wall-clock time.
func (o *Orchestrator) findUserConstantTime(ctx context.Context, email, password string) (*models.User, error) {
	user, err := o.deps.Users.FindUserByEmail(ctx, email)
	if err != nil {
		// Burn the same Argon2id cost a real verify would, against a
		// fixed dummy digest, so the timing profile of "user absent"
		// matches "user present, password wrong."
		_, _, _ = o.deps.Hasher.Verify(password, dummyDigest)
		return nil, autherrors.ErrInvalidCredential
	}
	return user, nil
}

// dummyDigest is a syntactically valid Argon2id digest with no
// corresponding real password; it exists purely so the constant-time
// decoy path in findUserConstantTime has something to parse and hash
// against.
const dummyDigest = "argon2id$v=19$m=65536,t=3,p=2$pv=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func freshSalt() []byte {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return buf
}

func (o *Orchestrator) emit(event models.AuthEvent) {
	if o.deps.Audit == nil {
		return
	}
	event.Timestamp = o.now()
	o.deps.Audit.Emit(event)
}

func (o *Orchestrator) temporaryFailure(correlationID, msg string, err error) AuthOutcome {
	o.emit(models.AuthEvent{Type: models.EventLoginFailed, Outcome: "temporary failure: " + msg, CorrelationID: correlationID})
	logx.Errorf("orchestrator: %s: %v", msg, err)
	return AuthOutcome{Kind: OutcomeTemporaryFailure}
}
