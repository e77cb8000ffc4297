package credentials

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

// MemoryRegistry is an in-process Registry guarded by a single mutex,
// used the same way internal/sessions.MemoryStore is: deterministic
// tests of the at-most-one and lockout invariants without a live
// database.
type MemoryRegistry struct {
	mu        sync.Mutex
	passwords map[uuid.UUID]*models.PasswordCredential
	webauthn  map[uuid.UUID][]*models.WebAuthnCredential
	totp      map[uuid.UUID]*models.TOTPEnrollment
	contacts  map[uuid.UUID][]*models.ContactChannel
}

// NewMemoryRegistry constructs an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		passwords: make(map[uuid.UUID]*models.PasswordCredential),
		webauthn:  make(map[uuid.UUID][]*models.WebAuthnCredential),
		totp:      make(map[uuid.UUID]*models.TOTPEnrollment),
		contacts:  make(map[uuid.UUID][]*models.ContactChannel),
	}
}

func (m *MemoryRegistry) FindPasswordFor(_ context.Context, userID uuid.UUID) (*models.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.passwords[userID]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	clone := *c
	return &clone, nil
}

// UpsertPassword enforces the "at most one active PasswordCredential"
// invariant (§3) by replacing whatever was stored for the user.
func (m *MemoryRegistry) UpsertPassword(_ context.Context, cred *models.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cred
	m.passwords[cred.UserID] = &clone
	return nil
}

func (m *MemoryRegistry) ListWebAuthnFor(_ context.Context, userID uuid.UUID) ([]*models.WebAuthnCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WebAuthnCredential
	for _, c := range m.webauthn[userID] {
		clone := *c
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryRegistry) FindWebAuthnByCredentialID(_ context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, creds := range m.webauthn {
		for _, c := range creds {
			if bytes.Equal(c.CredentialID, credentialID) {
				clone := *c
				return &clone, nil
			}
		}
	}
	return nil, autherrors.ErrInvalidCredential
}

func (m *MemoryRegistry) AddWebAuthn(_ context.Context, cred *models.WebAuthnCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cred
	m.webauthn[cred.UserID] = append(m.webauthn[cred.UserID], &clone)
	return nil
}

func (m *MemoryRegistry) UpdateWebAuthnCounter(_ context.Context, credentialPK uuid.UUID, counter uint32, lastUsed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, creds := range m.webauthn {
		for _, c := range creds {
			if c.ID == credentialPK {
				c.SignCounter = counter
				c.LastUsedAt = &lastUsed
				return nil
			}
		}
	}
	return autherrors.ErrInvalidCredential
}

func (m *MemoryRegistry) RemoveWebAuthn(_ context.Context, credentialPK uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, creds := range m.webauthn {
		for i, c := range creds {
			if c.ID == credentialPK {
				m.webauthn[userID] = append(creds[:i], creds[i+1:]...)
				return nil
			}
		}
	}
	return autherrors.ErrInvalidCredential
}

// FindTOTPFor enforces the "at most one primary TOTPEnrollment"
// invariant implicitly: there's only ever one slot per user.
func (m *MemoryRegistry) FindTOTPFor(_ context.Context, userID uuid.UUID) (*models.TOTPEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.totp[userID]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryRegistry) UpsertTOTP(_ context.Context, enrollment *models.TOTPEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *enrollment
	m.totp[enrollment.UserID] = &clone
	return nil
}

func (m *MemoryRegistry) RemoveTOTP(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.totp, userID)
	return nil
}

func (m *MemoryRegistry) ListContactChannels(_ context.Context, userID uuid.UUID) ([]*models.ContactChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ContactChannel
	for _, c := range m.contacts[userID] {
		clone := *c
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryRegistry) RecordFailure(_ context.Context, userID uuid.UUID, policy LockoutPolicy, now time.Time) (*models.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.passwords[userID]
	if !ok {
		return nil, autherrors.ErrInvalidCredential
	}
	c.FailedAttempts++
	if d := LockoutDuration(policy, c.FailedAttempts); d > 0 {
		deadline := now.Add(d)
		c.LockoutDeadline = &deadline
	}
	clone := *c
	return &clone, nil
}

func (m *MemoryRegistry) RecordSuccess(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.passwords[userID]
	if !ok {
		return autherrors.ErrInvalidCredential
	}
	c.FailedAttempts = 0
	c.LockoutDeadline = nil
	return nil
}
