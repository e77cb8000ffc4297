package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

// MemoryDirectory is an in-process Directory for deterministic tests,
// using the same mutex-guarded-map idiom as internal/sessions.MemoryStore
// and internal/credentials.MemoryRegistry.
type MemoryDirectory struct {
	mu            sync.Mutex
	usersByID     map[uuid.UUID]*models.User
	usersByEmail  map[string]uuid.UUID
	devices       map[uuid.UUID]*models.Device
	deviceByUser  map[uuid.UUID]map[string]uuid.UUID // userID -> fingerprintHash -> deviceID
}

// NewMemoryDirectory constructs an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		usersByID:    make(map[uuid.UUID]*models.User),
		usersByEmail: make(map[string]uuid.UUID),
		devices:      make(map[uuid.UUID]*models.Device),
		deviceByUser: make(map[uuid.UUID]map[string]uuid.UUID),
	}
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	return &clone
}

func cloneDevice(d *models.Device) *models.Device {
	clone := *d
	return &clone
}

func (m *MemoryDirectory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	return cloneUser(m.usersByID[id]), nil
}

func (m *MemoryDirectory) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByID[id]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	return cloneUser(u), nil
}

func (m *MemoryDirectory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	clone := *user
	m.usersByID[clone.ID] = &clone
	m.usersByEmail[clone.Email] = clone.ID
	return nil
}

func (m *MemoryDirectory) FindDeviceByFingerprint(_ context.Context, userID uuid.UUID, fingerprintHash string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byFP, ok := m.deviceByUser[userID]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	deviceID, ok := byFP[fingerprintHash]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	return cloneDevice(m.devices[deviceID]), nil
}

func (m *MemoryDirectory) BindDevice(_ context.Context, userID uuid.UUID, fingerprintHash string, now time.Time) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byFP, ok := m.deviceByUser[userID]
	if !ok {
		byFP = make(map[string]uuid.UUID)
		m.deviceByUser[userID] = byFP
	}

	if deviceID, ok := byFP[fingerprintHash]; ok {
		d := m.devices[deviceID]
		d.LastSeenAt = now
		return cloneDevice(d), nil
	}

	d := &models.Device{
		BaseModel:       models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		UserID:          userID,
		FingerprintHash: fingerprintHash,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		Trust:           models.TrustUnknown,
	}
	m.devices[d.ID] = d
	byFP[fingerprintHash] = d.ID
	return cloneDevice(d), nil
}

func (m *MemoryDirectory) PromoteDeviceTrust(_ context.Context, deviceID uuid.UUID, trust models.TrustLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return autherrors.ErrInvariantViolation
	}
	if trust > d.Trust {
		d.Trust = trust
	}
	return nil
}

func (m *MemoryDirectory) RecordDeviceRisk(_ context.Context, deviceID uuid.UUID, risk float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return autherrors.ErrInvariantViolation
	}
	d.AggregateRisk = risk
	return nil
}
