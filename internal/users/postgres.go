package users

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
	"github.com/shieldgate/authcore/internal/models"
)

// PostgresDirectory is the durable Directory, following the same
// sqlx/NamedExecContext/logx conventions as sessions.PostgresStore and
// credentials.PostgresRegistry.
type PostgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory wraps an existing *sqlx.DB connection.
func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (p *PostgresDirectory) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := p.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("users: find by email: %w", err)
	}
	return &u, nil
}

func (p *PostgresDirectory) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := p.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("users: find by id: %w", err)
	}
	return &u, nil
}

const insertUserQuery = `
	INSERT INTO users (id, email, display_name, status, email_verified, auth_security_version, created_at, updated_at)
	VALUES (:id, :email, :display_name, :status, :email_verified, :auth_security_version, :created_at, :updated_at)`

func (p *PostgresDirectory) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	if _, err := p.db.NamedExecContext(ctx, insertUserQuery, user); err != nil {
		logx.Errorf("users: failed to insert user: %v", err)
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

func (p *PostgresDirectory) FindDeviceByFingerprint(ctx context.Context, userID uuid.UUID, fingerprintHash string) (*models.Device, error) {
	var d models.Device
	err := p.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE user_id = $1 AND fingerprint_hash = $2`, userID, fingerprintHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("users: find device: %w", err)
	}
	return &d, nil
}

// BindDevice upserts on (user_id, fingerprint_hash): a repeat sighting
// only touches last_seen_at, never trust or aggregate_risk, so trust
// promotion stays an explicit, separate decision (§4.10 edge cases).
func (p *PostgresDirectory) BindDevice(ctx context.Context, userID uuid.UUID, fingerprintHash string, now time.Time) (*models.Device, error) {
	var d models.Device
	err := p.db.GetContext(ctx, &d, `
		INSERT INTO devices (id, user_id, fingerprint_hash, first_seen_at, last_seen_at, trust, aggregate_risk, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, 0, 0, $4, $4)
		ON CONFLICT (user_id, fingerprint_hash) DO UPDATE SET last_seen_at = $4
		RETURNING *`,
		uuid.New(), userID, fingerprintHash, now)
	if err != nil {
		return nil, fmt.Errorf("users: bind device: %w", err)
	}
	return &d, nil
}

func (p *PostgresDirectory) PromoteDeviceTrust(ctx context.Context, deviceID uuid.UUID, trust models.TrustLevel) error {
	_, err := p.db.ExecContext(ctx, `UPDATE devices SET trust = $1 WHERE id = $2 AND trust < $1`, trust, deviceID)
	if err != nil {
		return fmt.Errorf("users: promote device trust: %w", err)
	}
	return nil
}

func (p *PostgresDirectory) RecordDeviceRisk(ctx context.Context, deviceID uuid.UUID, risk float64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE devices SET aggregate_risk = $1 WHERE id = $2`, risk, deviceID)
	if err != nil {
		return fmt.Errorf("users: record device risk: %w", err)
	}
	return nil
}
