package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/keystore"
	"github.com/shieldgate/authcore/internal/models"
)

func newTestService(t *testing.T) (*Service, *keystore.Store) {
	t.Helper()
	signing, err := keystore.GenerateRSASigningKey(1, 2048)
	require.NoError(t, err)
	store, err := keystore.New(
		[]keystore.SigningKey{signing},
		[]keystore.EncryptionKey{{Version: 1, Key: [32]byte{1}}},
		[]keystore.PepperKey{{Version: 1, Value: []byte("pepper")}},
	)
	require.NoError(t, err)
	return New(store, DefaultConfig("authcore", []string{"authcore-clients"})), store
}

func noBump(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func TestMintThenVerifyAccessToken(t *testing.T) {
	svc, _ := newTestService(t)
	userID, sessionID, deviceID := uuid.New(), uuid.New(), uuid.New()

	signed, claims, err := svc.MintAccessToken(context.Background(), userID, sessionID, deviceID, models.FactorKnowledge|models.FactorInherence, 0)
	require.NoError(t, err)
	require.Equal(t, userID.String(), claims.Subject)

	verified, err := svc.VerifyAccessToken(context.Background(), signed, noBump)
	require.NoError(t, err)
	require.Equal(t, sessionID, verified.SessionID)
	require.Equal(t, deviceID, verified.DeviceID)
	require.True(t, verified.Factors.Has(models.FactorKnowledge))
	require.True(t, verified.Factors.Has(models.FactorInherence))
	require.False(t, verified.Factors.Has(models.FactorPossession))
}

func TestVerifyAccessTokenRejectsExpired(t *testing.T) {
	svc, _ := newTestService(t)
	svc.config.AccessTokenTTL = -time.Minute // mint an already-expired token

	signed, _, err := svc.MintAccessToken(context.Background(), uuid.New(), uuid.New(), uuid.New(), models.FactorKnowledge, 0)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(context.Background(), signed, noBump)
	require.ErrorIs(t, err, autherrors.ErrTokenExpired)
}

func TestVerifyAccessTokenRejectsStaleSecurityVersion(t *testing.T) {
	svc, _ := newTestService(t)
	userID := uuid.New()
	signed, _, err := svc.MintAccessToken(context.Background(), userID, uuid.New(), uuid.New(), models.FactorKnowledge, 1)
	require.NoError(t, err)

	bumped := func(context.Context, uuid.UUID) (int64, error) { return 2, nil }
	_, err = svc.VerifyAccessToken(context.Background(), signed, bumped)
	require.ErrorIs(t, err, autherrors.ErrTokenRevoked)
}

func TestVerifyAccessTokenAcceptsRetiredSigningKeyVersion(t *testing.T) {
	svc, store := newTestService(t)
	signed, _, err := svc.MintAccessToken(context.Background(), uuid.New(), uuid.New(), uuid.New(), models.FactorKnowledge, 0)
	require.NoError(t, err)

	newKey, err := keystore.GenerateRSASigningKey(2, 2048)
	require.NoError(t, err)
	store.RotateSigning(newKey)

	// Token signed under version 1 still verifies even though version 2
	// is now primary for new issuance.
	_, err = svc.VerifyAccessToken(context.Background(), signed, noBump)
	require.NoError(t, err)
}

func TestVerifyAccessTokenRejectsTamperedSignature(t *testing.T) {
	svc, _ := newTestService(t)
	signed, _, err := svc.MintAccessToken(context.Background(), uuid.New(), uuid.New(), uuid.New(), models.FactorKnowledge, 0)
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	_, err = svc.VerifyAccessToken(context.Background(), tampered, noBump)
	require.ErrorIs(t, err, autherrors.ErrTokenSignatureInvalid)
}

func TestGenerateRefreshSecretIsHighEntropyAndHashDeterministic(t *testing.T) {
	rawA, hashA, err := GenerateRefreshSecret()
	require.NoError(t, err)
	rawB, hashB, err := GenerateRefreshSecret()
	require.NoError(t, err)

	require.NotEqual(t, rawA, rawB)
	require.NotEqual(t, hashA, hashB)
	require.Equal(t, hashA, HashRefreshSecret(rawA))
	require.Equal(t, hashB, HashRefreshSecret(rawB))
	require.GreaterOrEqual(t, len(rawA), 43) // base64(33 bytes) without padding
}
