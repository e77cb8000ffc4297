package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/tokens"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func testParams(userID uuid.UUID) CreateParams {
	return CreateParams{
		UserID:      userID,
		DeviceID:    uuid.New(),
		Factors:     models.FactorKnowledge,
		AccessTTL:   time.Hour,
		RefreshTTL:  30 * 24 * time.Hour,
		AbsoluteTTL: 90 * 24 * time.Hour,
		IssuingIP:   "203.0.113.1",
	}
}

func TestCreateSessionStartsAtGenerationZero(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()

	session, raw, err := store.CreateSession(context.Background(), testParams(userID))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, int64(0), session.Generation)
	require.False(t, session.Revoked)
}

func TestRotateRefreshAdvancesGenerationOnMatch(t *testing.T) {
	store := NewMemoryStore()
	session, raw, err := store.CreateSession(context.Background(), testParams(uuid.New()))
	require.NoError(t, err)

	hash := tokens.HashRefreshSecret(raw)
	rotated, newRaw, err := store.RotateRefresh(context.Background(), session.FamilyID, hash)
	require.NoError(t, err)
	require.NotEqual(t, raw, newRaw)
	require.Equal(t, int64(1), rotated.Generation)
}

func TestRotateRefreshDetectsReuseAndRevokesFamily(t *testing.T) {
	store := NewMemoryStore()
	session, raw, err := store.CreateSession(context.Background(), testParams(uuid.New()))
	require.NoError(t, err)

	hash := tokens.HashRefreshSecret(raw)
	_, _, err = store.RotateRefresh(context.Background(), session.FamilyID, hash)
	require.NoError(t, err)

	// Present the same (now-stale) hash again: this is the classic
	// reuse signature of a stolen refresh token.
	_, _, err = store.RotateRefresh(context.Background(), session.FamilyID, hash)
	require.ErrorIs(t, err, autherrors.ErrRefreshReused)

	active, err := store.ListActive(context.Background(), session.UserID)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRotateRefreshUnknownFamily(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.RotateRefresh(context.Background(), uuid.New(), "whatever")
	require.ErrorIs(t, err, autherrors.ErrRefreshUnknown)
}

func TestRevokeAllForUserBumpsSecurityVersionAndRevokesSessions(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()
	_, _, err := store.CreateSession(context.Background(), testParams(userID))
	require.NoError(t, err)

	version, err := store.RevokeAllForUser(context.Background(), userID, models.ReasonLogoutAll)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	active, err := store.ListActive(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, active)

	current, err := store.SecurityVersion(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current)
}

func TestListActiveExcludesExpired(t *testing.T) {
	store := NewMemoryStore()
	userID := uuid.New()
	params := testParams(userID)
	params.RefreshTTL = -time.Minute // already expired
	_, _, err := store.CreateSession(context.Background(), params)
	require.NoError(t, err)

	active, err := store.ListActive(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestReapRemovesExpiredSessions(t *testing.T) {
	store := NewMemoryStore()
	params := testParams(uuid.New())
	params.RefreshTTL = -time.Minute
	_, _, err := store.CreateSession(context.Background(), params)
	require.NoError(t, err)

	removed, err := store.Reap(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}
