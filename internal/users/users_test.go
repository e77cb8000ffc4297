package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

func TestMemoryDirectory_CreateAndFindUser(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	u := &models.User{Email: "alice@example.com", DisplayName: "Alice"}
	require.NoError(t, dir.CreateUser(ctx, u))

	got, err := dir.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = dir.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, autherrors.ErrInvalidCredential)
}

func TestMemoryDirectory_BindDeviceFirstAndRepeat(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	userID := uuid.New()
	t0 := time.Now().UTC()

	first, err := dir.BindDevice(ctx, userID, "fp-hash-1", t0)
	require.NoError(t, err)
	assert.Equal(t, models.TrustUnknown, first.Trust)

	t1 := t0.Add(time.Hour)
	second, err := dir.BindDevice(ctx, userID, "fp-hash-1", t1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat fingerprint resolves to the same device")
	assert.Equal(t, t1, second.LastSeenAt)
}

func TestMemoryDirectory_PromoteDeviceTrustNeverDowngrades(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	userID := uuid.New()

	d, err := dir.BindDevice(ctx, userID, "fp-hash-1", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, dir.PromoteDeviceTrust(ctx, d.ID, models.TrustTrusted))
	require.NoError(t, dir.PromoteDeviceTrust(ctx, d.ID, models.TrustSeen))

	got, err := dir.FindDeviceByFingerprint(ctx, userID, "fp-hash-1")
	require.NoError(t, err)
	assert.Equal(t, models.TrustTrusted, got.Trust, "trust must not regress")
}
