// Package tokens implements the Token Service (C3): minting, parsing,
// and validating short-lived access tokens, and generating the opaque
// refresh-token material whose hash the session store persists.
//
// Grounded on pkg/gourdiantoken-master (claim shape: jti/sub/sid/usr/
// iss/aud/iat/exp/nbf/mle, RS256 asymmetric signing, key-version aware
// verification) and the teacher's domain/auth package (AuthManager
// wrapping golang-jwt/jwt/v5). Refresh-token rotation and family reuse
// detection live in the sessions package (C6), which is where the spec
// places the (family, generation) invariant; this package only mints
// the opaque secret and hashes it.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/keystore"
	"github.com/shieldgate/authcore/internal/models"
)

// Config holds the token lifetimes recognized per §6.
type Config struct {
	Issuer         string
	Audience       []string
	AccessTokenTTL time.Duration // default 1h
}

// DefaultConfig returns the spec's documented default access-token TTL.
func DefaultConfig(issuer string, audience []string) Config {
	return Config{Issuer: issuer, Audience: audience, AccessTokenTTL: time.Hour}
}

// AccessClaims is the payload carried by a signed access token (§6).
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID       uuid.UUID         `json:"sid"`
	DeviceID        uuid.UUID         `json:"did"`
	Factors         models.AuthFactor `json:"fct"`
	SecurityVersion int64             `json:"sv"`
	KeyVersion      int               `json:"kv"`
}

// SecurityVersionLookup resolves a user's current security version so
// VerifyAccessToken can detect a token minted before a LogoutAll bump
// (§4.6, §4.10). Implementations typically read through the cache
// substrate (C4) with bounded staleness (§5).
type SecurityVersionLookup func(ctx context.Context, userID uuid.UUID) (int64, error)

// Service mints and verifies access tokens and generates opaque
// refresh-token secrets.
type Service struct {
	keys   *keystore.Store
	config Config
}

// New constructs a token Service bound to a key store and configuration.
func New(keys *keystore.Store, config Config) *Service {
	return &Service{keys: keys, config: config}
}

// MintAccessToken signs a new access token for the given session state.
func (s *Service) MintAccessToken(ctx context.Context, userID, sessionID, deviceID uuid.UUID, factors models.AuthFactor, securityVersion int64) (string, *AccessClaims, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("tokens: context canceled: %w", err)
	}

	signingKey, err := s.keys.SigningPrimary()
	if err != nil {
		return "", nil, fmt.Errorf("tokens: %w", err)
	}

	now := time.Now().UTC()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID.String(),
			Issuer:    s.config.Issuer,
			Audience:  s.config.Audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTokenTTL)),
		},
		SessionID:       sessionID,
		DeviceID:        deviceID,
		Factors:         factors,
		SecurityVersion: securityVersion,
		KeyVersion:      signingKey.Version,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = fmt.Sprintf("%d", signingKey.Version)

	signed, err := token.SignedString(signingKey.Private)
	if err != nil {
		return "", nil, fmt.Errorf("tokens: sign access token: %w", err)
	}
	return signed, claims, nil
}

// VerifyAccessToken checks the signature, expiry, and security version
// of an access token. It fails with autherrors.ErrTokenSignatureInvalid,
// autherrors.ErrTokenExpired, or autherrors.ErrTokenRevokedBySecurityVersion-equivalent
// (ErrTokenRevoked) per §4.3.
func (s *Service) VerifyAccessToken(ctx context.Context, tokenString string, currentSecurityVersion SecurityVersionLookup) (*AccessClaims, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tokens: context canceled: %w", err)
	}

	var claims AccessClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		key, found := s.keys.SigningByVersion(claims.KeyVersion)
		if !found {
			return nil, fmt.Errorf("unknown signing key version %d", claims.KeyVersion)
		}
		return key.Public, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", autherrors.ErrTokenSignatureInvalid, err)
	}
	if !parsed.Valid {
		return nil, autherrors.ErrTokenSignatureInvalid
	}

	// Half-open validity interval: valid while now < expiresAt (§8).
	if claims.ExpiresAt != nil && !time.Now().UTC().Before(claims.ExpiresAt.Time) {
		return nil, autherrors.ErrTokenExpired
	}

	if currentSecurityVersion != nil {
		subjectID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("tokens: malformed subject claim: %w", err)
		}
		current, err := currentSecurityVersion(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("%w: security version lookup: %v", autherrors.ErrDependencyUnavailable, err)
		}
		if claims.SecurityVersion < current {
			return nil, autherrors.ErrTokenRevoked
		}
	}

	return &claims, nil
}

// RefreshSecretVersion is the version byte prefixed onto opaque refresh
// tokens to support future format rotations (§6).
const RefreshSecretVersion byte = 1

// GenerateRefreshSecret produces a new opaque, URL-safe refresh-token
// secret with at least 256 bits of entropy, prefixed with a version
// byte, and returns both the raw secret (given to the client) and its
// hash (what the session store persists — §6: "Only its hash is
// persisted").
func GenerateRefreshSecret() (raw string, hash string, err error) {
	buf := make([]byte, 33) // 1 version byte + 32 bytes (256 bits) of entropy
	buf[0] = RefreshSecretVersion
	if _, err := rand.Read(buf[1:]); err != nil {
		return "", "", fmt.Errorf("tokens: generate refresh secret: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashRefreshSecret(raw), nil
}

// HashRefreshSecret deterministically hashes a raw refresh-token secret
// for storage and comparison. SHA-256 is sufficient here: the input
// already has 256 bits of entropy, so this is not a
// password-style slow hash, just a commitment the session store can
// index and compare in constant time.
func HashRefreshSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
