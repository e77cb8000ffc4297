package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/models"
)

func TestLockoutDuration(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, BaseDuration: time.Minute, Cap: time.Hour}

	cases := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{"below threshold", 4, 0},
		{"at threshold", 5, time.Minute},
		{"one over", 6, 2 * time.Minute},
		{"two over", 7, 4 * time.Minute},
		{"capped", 20, time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LockoutDuration(policy, tc.attempts))
		})
	}
}

func TestIsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.True(t, IsLocked(&models.PasswordCredential{LockoutDeadline: &future}, now))
	assert.False(t, IsLocked(&models.PasswordCredential{LockoutDeadline: &past}, now))
	assert.False(t, IsLocked(&models.PasswordCredential{LockoutDeadline: nil}, now))
}

func TestMemoryRegistry_PasswordLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	userID := uuid.New()

	_, err := reg.FindPasswordFor(ctx, userID)
	require.Error(t, err)

	require.NoError(t, reg.UpsertPassword(ctx, &models.PasswordCredential{UserID: userID, Digest: "digest-v1"}))

	cred, err := reg.FindPasswordFor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "digest-v1", cred.Digest)

	// A second upsert replaces, not duplicates, the single active
	// credential (§3 invariant).
	require.NoError(t, reg.UpsertPassword(ctx, &models.PasswordCredential{UserID: userID, Digest: "digest-v2"}))
	cred, err = reg.FindPasswordFor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "digest-v2", cred.Digest)
}

func TestMemoryRegistry_RecordFailureLocksAfterThreshold(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	userID := uuid.New()
	require.NoError(t, reg.UpsertPassword(ctx, &models.PasswordCredential{UserID: userID}))

	policy := LockoutPolicy{Threshold: 3, BaseDuration: time.Minute, Cap: time.Hour}
	now := time.Now()

	var cred *models.PasswordCredential
	var err error
	for i := 0; i < 3; i++ {
		cred, err = reg.RecordFailure(ctx, userID, policy, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, cred.FailedAttempts)
	require.NotNil(t, cred.LockoutDeadline)
	assert.True(t, IsLocked(cred, now))

	require.NoError(t, reg.RecordSuccess(ctx, userID))
	cred, err = reg.FindPasswordFor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, cred.FailedAttempts)
	assert.Nil(t, cred.LockoutDeadline)
}

func TestMemoryRegistry_WebAuthnCounterMonotonic(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	userID := uuid.New()
	credID := uuid.New()

	require.NoError(t, reg.AddWebAuthn(ctx, &models.WebAuthnCredential{
		BaseModel:    models.BaseModel{ID: credID},
		UserID:       userID,
		CredentialID: []byte("cred-1"),
		SignCounter:  5,
	}))

	require.NoError(t, reg.UpdateWebAuthnCounter(ctx, credID, 6, time.Now()))

	found, err := reg.FindWebAuthnByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), found.SignCounter)
}
