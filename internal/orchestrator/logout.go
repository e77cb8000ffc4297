package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/models"
)

// Logout revokes a single session, the §6 "Logout" operation.
func (o *Orchestrator) Logout(ctx context.Context, sessionID uuid.UUID) error {
	if err := o.deps.Sessions.RevokeSession(ctx, sessionID, models.ReasonUserLogout); err != nil {
		return fmt.Errorf("orchestrator: logout: %w", err)
	}
	o.emit(models.AuthEvent{Type: models.EventSessionRevoked, Outcome: "user logout",
		Details: map[string]interface{}{"session_id": sessionID.String()}})
	return nil
}

// LogoutAll revokes every live session for userID and bumps the
// user's security version, so outstanding access tokens minted before
// the bump fail VerifyAccessToken's security-version check on their
// next use (§4.3, §4.10.4: "LogoutAll invalidates already-issued
// access tokens within the bounded staleness window"). It also drops
// the cached security-version projection ValidateAccessToken reads
// through (validate.go's securityVersionLookup), so the bump is
// visible immediately rather than only after securityVersionCacheTTL
// elapses; §5 only requires the TTL as a worst-case bound, not as the
// normal invalidation path.
func (o *Orchestrator) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	newVersion, err := o.deps.Sessions.RevokeAllForUser(ctx, userID, models.ReasonLogoutAll)
	if err != nil {
		return fmt.Errorf("orchestrator: logout all: %w", err)
	}
	if o.deps.Cache != nil {
		if err := o.deps.Cache.Invalidate(ctx, securityVersionCacheKey(userID)); err != nil {
			logx.Errorf("orchestrator: invalidate security version cache for %s: %v", userID, err)
		}
	}
	o.emit(models.AuthEvent{Type: models.EventSessionRevoked, ActorUserID: &userID, Outcome: "logout all", Critical: true,
		Details: map[string]interface{}{"new_security_version": newVersion}})
	return nil
}
