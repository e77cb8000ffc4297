package orchestrator

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/cache"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/tokens"
)

// securityVersionCacheTTL bounds how stale a security-version read can
// be before a validator refetches from the Session Store (§5:
// "validators read the security version through a cache with a
// bounded staleness of a few seconds").
const securityVersionCacheTTL = 5 * time.Second

func securityVersionCacheKey(userID uuid.UUID) string {
	return "authcore:security-version:" + userID.String()
}

// securityVersionLookup builds the tokens.SecurityVersionLookup
// VerifyAccessToken needs, reading through the Cache Substrate (C4) so
// a LogoutAll bump becomes visible to token verification within the
// bounded staleness window without hitting the Session Store on every
// request.
func (o *Orchestrator) securityVersionLookup(ctx context.Context, userID uuid.UUID) (int64, error) {
	value, err := o.deps.Cache.Get(ctx, securityVersionCacheKey(userID), func(ctx context.Context) ([]byte, time.Duration, error) {
		version, err := o.deps.Sessions.SecurityVersion(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(version))
		return buf, securityVersionCacheTTL, nil
	})
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("orchestrator: malformed cached security version")
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// ValidateAccessToken implements §6's token-validation surface: verify
// the signature and expiry, then confirm the embedded security version
// hasn't been superseded by a LogoutAll.
func (o *Orchestrator) ValidateAccessToken(ctx context.Context, accessToken string) (userID, sessionID uuid.UUID, factors models.AuthFactor, expiresAt time.Time, err error) {
	var lookup tokens.SecurityVersionLookup
	if o.deps.Cache != nil {
		lookup = o.securityVersionLookup
	} else {
		lookup = o.deps.Sessions.SecurityVersion
	}

	claims, verr := o.deps.Tokens.VerifyAccessToken(ctx, accessToken, lookup)
	if verr != nil {
		return uuid.UUID{}, uuid.UUID{}, 0, time.Time{}, verr
	}

	subject, perr := uuid.Parse(claims.Subject)
	if perr != nil {
		return uuid.UUID{}, uuid.UUID{}, 0, time.Time{}, fmt.Errorf("orchestrator: malformed subject claim: %w", perr)
	}
	return subject, claims.SessionID, claims.Factors, claims.ExpiresAt.Time, nil
}
