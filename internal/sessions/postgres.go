package sessions

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
	"github.com/shieldgate/authcore/internal/tokens"
)

// PostgresStore is the durable Session Store, following the teacher's
// BaseRepository conventions (sqlx, NamedExecContext for writes,
// logx-wrapped errors) but adding the explicit row-version compare-
// and-swap §4.6 requires for refresh rotation, which the teacher's
// generic repository never needed.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing *sqlx.DB connection (the teacher
// wires connections at service bootstrap via its config.Mysql/Postgres
// loader; schema migrations are explicitly out of scope here per the
// core's non-goals).
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertSessionQuery = `
	INSERT INTO sessions (
		id, user_id, device_id, created_at, last_seen_at, access_expires_at,
		family_id, generation, refresh_hash, refresh_expires_at, absolute_expires_at,
		revoked, issuing_ip, user_agent, risk_at_issue, factors
	) VALUES (
		:id, :user_id, :device_id, :created_at, :last_seen_at, :access_expires_at,
		:family_id, :generation, :refresh_hash, :refresh_expires_at, :absolute_expires_at,
		:revoked, :issuing_ip, :user_agent, :risk_at_issue, :factors
	)`

func (p *PostgresStore) CreateSession(ctx context.Context, params CreateParams) (*models.Session, string, error) {
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

	if _, err := p.db.NamedExecContext(ctx, insertSessionQuery, session); err != nil {
		logx.Errorf("sessions: failed to insert session: %v", err)
		return nil, "", fmt.Errorf("sessions: create: %w", err)
	}
	return session, raw, nil
}

// RotateRefresh reads the family's newest session, then performs the
// generation compare-and-swap as a single UPDATE ... WHERE id = <that
// session> AND refresh_hash = <presented hash> AND NOT revoked, which
// Postgres executes atomically without needing an explicit
// transaction: a concurrent rotation or revocation between the read
// and the update leaves zero rows affected and is reported as a reuse.
func (p *PostgresStore) RotateRefresh(ctx context.Context, familyID uuid.UUID, presentedHash string) (*models.Session, string, error) {
	var current models.Session
	err := p.db.GetContext(ctx, &current, `SELECT * FROM sessions WHERE family_id = $1 ORDER BY generation DESC LIMIT 1`, familyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", autherrors.ErrRefreshUnknown
	}
	if err != nil {
		logx.Errorf("sessions: lookup family %s failed: %v", familyID, err)
		return nil, "", fmt.Errorf("sessions: lookup family: %w", err)
	}

	now := time.Now().UTC()
	if !current.Live(now) {
		return nil, "", autherrors.ErrRefreshExpired
	}

	if current.RefreshHash != presentedHash {
		if err := p.revokeFamily(ctx, familyID, models.ReasonRefreshReuse); err != nil {
			logx.Errorf("sessions: failed to revoke reused family %s: %v", familyID, err)
		}
		return nil, "", autherrors.ErrRefreshReused
	}

	raw, hash, err := tokens.GenerateRefreshSecret()
	if err != nil {
		return nil, "", err
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE sessions
		SET generation = generation + 1, refresh_hash = $1, last_seen_at = $2
		WHERE id = $3 AND refresh_hash = $4 AND NOT revoked`,
		hash, now, current.ID, presentedHash)
	if err != nil {
		return nil, "", fmt.Errorf("sessions: rotate refresh: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, "", fmt.Errorf("sessions: rotate refresh: %w", err)
	}
	if affected == 0 {
		// Lost the compare-and-swap race to a concurrent rotation or
		// revocation between the read above and this update.
		return nil, "", autherrors.ErrRefreshReused
	}

	current.Generation++
	current.RefreshHash = hash
	current.LastSeenAt = now
	return &current, raw, nil
}

func (p *PostgresStore) revokeFamily(ctx context.Context, familyID uuid.UUID, reason models.TerminationReason) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = true, termination_reason = $1 WHERE family_id = $2`,
		reason, familyID)
	return err
}

func (p *PostgresStore) RevokeSession(ctx context.Context, sessionID uuid.UUID, reason models.TerminationReason) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = true, termination_reason = $1 WHERE id = $2`,
		reason, sessionID)
	if err != nil {
		return fmt.Errorf("sessions: revoke session: %w", err)
	}
	return nil
}

func (p *PostgresStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason models.TerminationReason) (int64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sessions: begin revoke-all transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		UPDATE sessions SET revoked = true, termination_reason = $1 WHERE user_id = $2 AND NOT revoked`,
		reason, userID); err != nil {
		return 0, fmt.Errorf("sessions: revoke sessions for user: %w", err)
	}

	var newVersion int64
	if err = tx.GetContext(ctx, &newVersion, `
		UPDATE users SET auth_security_version = auth_security_version + 1 WHERE id = $1
		RETURNING auth_security_version`, userID); err != nil {
		return 0, fmt.Errorf("sessions: bump security version: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("sessions: commit revoke-all: %w", err)
	}
	return newVersion, nil
}

func (p *PostgresStore) ListActive(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	var out []*models.Session
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM sessions
		WHERE user_id = $1 AND NOT revoked AND refresh_expires_at > now() AND absolute_expires_at > now()`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list active: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) SecurityVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	var version int64
	err := p.db.GetContext(ctx, &version, `SELECT auth_security_version FROM users WHERE id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("sessions: security version lookup: %w", err)
	}
	return version, nil
}

func (p *PostgresStore) Reap(ctx context.Context, now time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE refresh_expires_at <= $1 OR absolute_expires_at <= $1 OR revoked`, now)
	if err != nil {
		return 0, fmt.Errorf("sessions: reap: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sessions: reap: %w", err)
	}
	return int(affected), nil
}
