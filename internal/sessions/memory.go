package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/tokens"
)

// MemoryStore is an in-process Store keyed by session ID, guarded by a
// single mutex; lookups by family or by user scan every session.
// Production deployments use PostgresStore; this exists for tests and
// for the reference orchestration flows that don't need durability.
type MemoryStore struct {
	mu               sync.Mutex
	byID             map[uuid.UUID]*models.Session
	securityVersions map[uuid.UUID]int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:             make(map[uuid.UUID]*models.Session),
		securityVersions: make(map[uuid.UUID]int64),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, params CreateParams) (*models.Session, string, error) {
	raw, hash, err := tokens.GenerateRefreshSecret()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:                uuid.New(),
		UserID:            params.UserID,
		DeviceID:          params.DeviceID,
		CreatedAt:         now,
		LastSeenAt:        now,
		AccessExpiresAt:   now.Add(params.AccessTTL),
		FamilyID:          uuid.New(),
		Generation:        0,
		RefreshHash:       hash,
		RefreshExpiresAt:  now.Add(params.RefreshTTL),
		AbsoluteExpiresAt: now.Add(params.AbsoluteTTL),
		IssuingIP:         params.IssuingIP,
		UserAgent:         params.UserAgent,
		RiskAtIssue:       params.Risk,
		Factors:           params.Factors,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[session.ID] = session
	if _, ok := m.securityVersions[params.UserID]; !ok {
		m.securityVersions[params.UserID] = 0
	}
	return cloneSession(session), raw, nil
}

func (m *MemoryStore) findByFamilyLocked(familyID uuid.UUID) *models.Session {
	for _, s := range m.byID {
		if s.FamilyID == familyID {
			return s
		}
	}
	return nil
}

func (m *MemoryStore) RotateRefresh(_ context.Context, familyID uuid.UUID, presentedHash string) (*models.Session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.findByFamilyLocked(familyID)
	if session == nil {
		return nil, "", autherrors.ErrRefreshUnknown
	}
	now := time.Now().UTC()
	if !session.Live(now) {
		return nil, "", autherrors.ErrRefreshExpired
	}

	if session.RefreshHash != presentedHash {
		// Reuse: the presented hash doesn't match the current
		// generation's hash. Revoke the whole family immediately (§4.3,
		// §4.10.3).
		session.Revoked = true
		session.TerminationReason = models.ReasonRefreshReuse
		return nil, "", autherrors.ErrRefreshReused
	}

	raw, hash, err := tokens.GenerateRefreshSecret()
	if err != nil {
		return nil, "", err
	}

	session.Generation++
	session.RefreshHash = hash
	session.LastSeenAt = now

	return cloneSession(session), raw, nil
}

// ExtendRefreshWindow applies the sliding-window-within-absolute-cap
// policy (§4.3): the refresh expiry advances by refreshTTL but never
// past the session's fixed absolute expiry.
func (m *MemoryStore) ExtendRefreshWindow(sessionID uuid.UUID, refreshTTL time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.byID[sessionID]
	if !ok {
		return
	}
	candidate := time.Now().UTC().Add(refreshTTL)
	if candidate.After(session.AbsoluteExpiresAt) {
		candidate = session.AbsoluteExpiresAt
	}
	session.RefreshExpiresAt = candidate
}

func (m *MemoryStore) RevokeSession(_ context.Context, sessionID uuid.UUID, reason models.TerminationReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.byID[sessionID]
	if !ok {
		return autherrors.ErrRefreshUnknown
	}
	session.Revoked = true
	session.TerminationReason = reason
	return nil
}

func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID uuid.UUID, reason models.TerminationReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			s.TerminationReason = reason
		}
	}
	m.securityVersions[userID]++
	return m.securityVersions[userID], nil
}

func (m *MemoryStore) ListActive(_ context.Context, userID uuid.UUID) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []*models.Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Live(now) {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) SecurityVersion(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.securityVersions[userID], nil
}

func (m *MemoryStore) Reap(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.byID {
		if !s.Live(now) {
			delete(m.byID, id)
			removed++
		}
	}
	return removed, nil
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	return &clone
}
