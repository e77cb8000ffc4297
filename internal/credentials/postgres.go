package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/keystore"
	"github.com/shieldgate/authcore/internal/models"
)

// PostgresRegistry is the durable Registry, following the teacher's
// BaseRepository conventions (sqlx, NamedExecContext, logx-wrapped
// errors) generalized the same way internal/sessions.PostgresStore
// generalizes it for the session store. Secret-bearing fields are
// stored and returned exactly as given: the registry does not seal or
// open them itself, so callers pass TOTP seeds already sealed and open
// them after a read.
type PostgresRegistry struct {
	db   *sqlx.DB
	seal *keystore.Store
}

// NewPostgresRegistry wraps an existing *sqlx.DB and holds the process
// key store; the registry's methods do not call it.
func NewPostgresRegistry(db *sqlx.DB, seal *keystore.Store) *PostgresRegistry {
	return &PostgresRegistry{db: db, seal: seal}
}

func (p *PostgresRegistry) FindPasswordFor(ctx context.Context, userID uuid.UUID) (*models.PasswordCredential, error) {
	var cred models.PasswordCredential
	err := p.db.GetContext(ctx, &cred, `SELECT * FROM password_credentials WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		logx.Errorf("credentials: find password for %s failed: %v", userID, err)
		return nil, fmt.Errorf("credentials: find password: %w", err)
	}
	return &cred, nil
}

// UpsertPassword enforces the at-most-one-active-PasswordCredential
// invariant (§3) with an upsert keyed on user_id.
func (p *PostgresRegistry) UpsertPassword(ctx context.Context, cred *models.PasswordCredential) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO password_credentials (
			id, user_id, digest, pepper_version, memory_kib, time_cost, parallelism,
			failed_attempts, lockout_deadline, created_at, updated_at
		) VALUES (
			:id, :user_id, :digest, :pepper_version, :memory_kib, :time_cost, :parallelism,
			:failed_attempts, :lockout_deadline, :created_at, :updated_at
		)
		ON CONFLICT (user_id) DO UPDATE SET
			digest = EXCLUDED.digest, pepper_version = EXCLUDED.pepper_version,
			memory_kib = EXCLUDED.memory_kib, time_cost = EXCLUDED.time_cost,
			parallelism = EXCLUDED.parallelism, updated_at = EXCLUDED.updated_at`,
		cred)
	if err != nil {
		logx.Errorf("credentials: upsert password failed: %v", err)
		return fmt.Errorf("credentials: upsert password: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) ListWebAuthnFor(ctx context.Context, userID uuid.UUID) ([]*models.WebAuthnCredential, error) {
	var out []*models.WebAuthnCredential
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM webauthn_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials: list webauthn: %w", err)
	}
	return out, nil
}

func (p *PostgresRegistry) FindWebAuthnByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	var cred models.WebAuthnCredential
	err := p.db.GetContext(ctx, &cred, `SELECT * FROM webauthn_credentials WHERE credential_id = $1`, credentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: find webauthn by credential id: %w", err)
	}
	return &cred, nil
}

func (p *PostgresRegistry) AddWebAuthn(ctx context.Context, cred *models.WebAuthnCredential) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO webauthn_credentials (
			id, user_id, credential_id, public_key, sign_counter, aaguid, attachment,
			transports, friendly_name, last_used_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :credential_id, :public_key, :sign_counter, :aaguid, :attachment,
			:transports, :friendly_name, :last_used_at, :created_at, :updated_at
		)`, cred)
	if err != nil {
		return fmt.Errorf("credentials: add webauthn: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) UpdateWebAuthnCounter(ctx context.Context, credentialPK uuid.UUID, counter uint32, lastUsed time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webauthn_credentials SET sign_counter = $1, last_used_at = $2 WHERE id = $3`,
		counter, lastUsed, credentialPK)
	if err != nil {
		return fmt.Errorf("credentials: update webauthn counter: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) RemoveWebAuthn(ctx context.Context, credentialPK uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE id = $1`, credentialPK)
	if err != nil {
		return fmt.Errorf("credentials: remove webauthn: %w", err)
	}
	return nil
}

// FindTOTPFor returns the user's TOTP enrollment with the seed exactly
// as persisted: ciphertext, never the raw shared secret. The caller
// opens it.
func (p *PostgresRegistry) FindTOTPFor(ctx context.Context, userID uuid.UUID) (*models.TOTPEnrollment, error) {
	var enrollment models.TOTPEnrollment
	err := p.db.GetContext(ctx, &enrollment, `SELECT * FROM totp_enrollments WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: find totp: %w", err)
	}
	return &enrollment, nil
}

// UpsertTOTP persists enrollment, whose EncryptedSeed and ScratchHashes
// must already be sealed by the caller via p.seal before this is
// called — the registry itself only persists ciphertext (§4.7: writes
// are encrypted at rest via C2 for secret-bearing fields).
func (p *PostgresRegistry) UpsertTOTP(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO totp_enrollments (
			id, user_id, encrypted_seed, key_version, drift_windows, scratch_hashes, created_at, updated_at
		) VALUES (
			:id, :user_id, :encrypted_seed, :key_version, :drift_windows, :scratch_hashes, :created_at, :updated_at
		)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_seed = EXCLUDED.encrypted_seed, key_version = EXCLUDED.key_version,
			drift_windows = EXCLUDED.drift_windows, scratch_hashes = EXCLUDED.scratch_hashes,
			updated_at = EXCLUDED.updated_at`, enrollment)
	if err != nil {
		return fmt.Errorf("credentials: upsert totp: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) RemoveTOTP(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM totp_enrollments WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("credentials: remove totp: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) ListContactChannels(ctx context.Context, userID uuid.UUID) ([]*models.ContactChannel, error) {
	var out []*models.ContactChannel
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM contact_channels WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials: list contact channels: %w", err)
	}
	return out, nil
}

func (p *PostgresRegistry) RecordFailure(ctx context.Context, userID uuid.UUID, policy LockoutPolicy, now time.Time) (*models.PasswordCredential, error) {
	cred, err := p.FindPasswordFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred.FailedAttempts++
	var deadline *time.Time
	if d := LockoutDuration(policy, cred.FailedAttempts); d > 0 {
		t := now.Add(d)
		deadline = &t
	}
	cred.LockoutDeadline = deadline

	_, err = p.db.ExecContext(ctx, `
		UPDATE password_credentials SET failed_attempts = $1, lockout_deadline = $2 WHERE user_id = $3`,
		cred.FailedAttempts, cred.LockoutDeadline, userID)
	if err != nil {
		logx.Errorf("credentials: record failure for %s failed: %v", userID, err)
		return nil, fmt.Errorf("credentials: record failure: %w", err)
	}
	return cred, nil
}

func (p *PostgresRegistry) RecordSuccess(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE password_credentials SET failed_attempts = 0, lockout_deadline = NULL WHERE user_id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("credentials: record success: %w", err)
	}
	return nil
}
