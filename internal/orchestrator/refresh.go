package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/ratelimit"
	"github.com/shieldgate/authcore/internal/tokens"
)

// composeRefreshToken and parseRefreshToken bridge the client-facing
// refresh token (which must name its family so a presented token can
// be routed to the right RotateRefresh call) and the opaque per-
// generation secret the Session Store (C6) actually hashes and
// compares (§4.6: "Only its hash is persisted"). The family ID isn't
// secret — it's routing information, same role the "sid" claim plays
// on the access token side.
func composeRefreshToken(familyID uuid.UUID, secret string) string {
	return familyID.String() + "." + secret
}

func parseRefreshToken(raw string) (familyID uuid.UUID, secret string, err error) {
	idPart, secretPart, ok := strings.Cut(raw, ".")
	if !ok || secretPart == "" {
		return uuid.UUID{}, "", autherrors.ErrRefreshUnknown
	}
	familyID, err = uuid.Parse(idPart)
	if err != nil {
		return uuid.UUID{}, "", autherrors.ErrRefreshUnknown
	}
	return familyID, secretPart, nil
}

// Refresh implements §4.10.3: parse the presented refresh token, hand
// its family and hash to the Session Store's compare-and-swap, and
// mint a fresh access/refresh pair on success. A hash mismatch against
// a live family means the Session Store has already revoked the whole
// family as a reuse; that is reported as a denial with a critical
// audit event, never silently retried.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken, deviceFingerprint, sourceIP, userAgent string) AuthOutcome {
	correlationID := uuid.New().String()

	familyID, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		o.emit(models.AuthEvent{Type: models.EventLoginFailed, Outcome: "malformed refresh token", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	}

	if _, err := o.deps.RateLimiter.Check(ctx, ratelimit.ClassRefresh, familyID.String()); err != nil {
		if errors.Is(err, autherrors.ErrRateLimited) {
			return AuthOutcome{Kind: OutcomeRateLimited}
		}
		return o.temporaryFailure(correlationID, "rate limiter unavailable", err)
	}

	presentedHash := tokens.HashRefreshSecret(secret)

	session, rawRefresh, err := o.deps.Sessions.RotateRefresh(ctx, familyID, presentedHash)
	switch {
	case errors.Is(err, autherrors.ErrRefreshReused):
		o.emit(models.AuthEvent{Type: models.EventRefreshReused, Outcome: "refresh token reuse detected; family revoked", CorrelationID: correlationID, Critical: true,
			Details: map[string]interface{}{"family_id": familyID.String()}})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "refresh_reused"}
	case errors.Is(err, autherrors.ErrRefreshExpired), errors.Is(err, autherrors.ErrRefreshUnknown):
		o.emit(models.AuthEvent{Type: models.EventLoginFailed, Outcome: "refresh rejected", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	case err != nil:
		return o.temporaryFailure(correlationID, "rotate refresh failed", err)
	}

	user, err := o.deps.Users.FindUserByID(ctx, session.UserID)
	if err != nil {
		return o.temporaryFailure(correlationID, "user lookup failed", err)
	}
	access, claims, err := o.deps.Tokens.MintAccessToken(ctx, user.ID, session.ID, session.DeviceID, session.Factors, user.AuthSecurityVersion)
	if err != nil {
		return o.temporaryFailure(correlationID, "mint access token failed", err)
	}

	o.emit(models.AuthEvent{Type: models.EventTokenRefreshed, ActorUserID: &user.ID, Outcome: "refreshed", CorrelationID: correlationID})
	logx.Infof("orchestrator: rotated refresh family %s to generation %d", familyID, session.Generation)

	return AuthOutcome{
		Kind: OutcomeSuccess,
		Tokens: Tokens{
			AccessToken:  access,
			RefreshToken: composeRefreshToken(session.FamilyID, rawRefresh),
			ExpiresAt:    claims.ExpiresAt.Time,
		},
		User:    user,
		Session: session,
		Factors: session.Factors,
	}
}
