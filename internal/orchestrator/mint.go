package orchestrator

import (
	"context"
	"fmt"

	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/sessions"
)

// mint asks the Session Store (C6) for a new session/refresh pair and
// the Token Service (C3) for a signed access token, the shared tail of
// every flow that ends in [AUTHENTICATED] (§4.10.1, §4.10.2).
func (o *Orchestrator) mint(ctx context.Context, user *models.User, device *models.Device, factors models.AuthFactor, riskScore float64, sourceIP, userAgent string) (AuthOutcome, error) {
	session, rawRefresh, err := o.deps.Sessions.CreateSession(ctx, sessions.CreateParams{
		UserID:      user.ID,
		DeviceID:    device.ID,
		Factors:     factors,
		Risk:        riskScore,
		AccessTTL:   o.ttl.AccessTokenTTL,
		RefreshTTL:  o.ttl.RefreshTokenTTL,
		AbsoluteTTL: o.ttl.AbsoluteSessionLifetime,
		IssuingIP:   sourceIP,
		UserAgent:   userAgent,
	})
	if err != nil {
		return AuthOutcome{}, fmt.Errorf("orchestrator: create session: %w", err)
	}

	access, claims, err := o.deps.Tokens.MintAccessToken(ctx, user.ID, session.ID, device.ID, factors, user.AuthSecurityVersion)
	if err != nil {
		return AuthOutcome{}, fmt.Errorf("orchestrator: mint access token: %w", err)
	}

	o.emit(models.AuthEvent{Type: models.EventTokenMinted, ActorUserID: &user.ID, DeviceID: &device.ID, Outcome: "minted"})

	return AuthOutcome{
		Kind: OutcomeSuccess,
		Tokens: Tokens{
			AccessToken:  access,
			RefreshToken: composeRefreshToken(session.FamilyID, rawRefresh),
			ExpiresAt:    claims.ExpiresAt.Time,
		},
		User:    user,
		Session: session,
		Factors: factors,
	}, nil
}
