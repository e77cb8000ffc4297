// Package sessions implements the Session Store (C6): the
// authoritative record of live sessions, refresh-token families, and
// their current generation (§4.6).
//
// Store is the interface the orchestrator depends on; PostgresStore is
// the durable, sqlx/lib/pq-backed implementation grounded on the
// teacher's shared/repository.BaseRepository (transactional exec,
// structured logx error wrapping). MemoryStore is an in-process
// reference implementation using the same sync.Mutex-guarded-map
// idiom as internal/credentials.MemoryRegistry, used here for
// deterministic tests of the compare-and-swap and reuse-detection
// invariants without a live database.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/models"
)

// CreateParams bundles the arguments to CreateSession (§4.6).
type CreateParams struct {
	UserID      uuid.UUID
	DeviceID    uuid.UUID
	Factors     models.AuthFactor
	Risk        float64
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	AbsoluteTTL time.Duration
	IssuingIP   string
	UserAgent   string
}

// Store is the Session Store's external contract (§4.6).
type Store interface {
	// CreateSession starts a new refresh-token family at generation 0
	// and returns the session along with the raw refresh secret (whose
	// hash alone is persisted).
	CreateSession(ctx context.Context, params CreateParams) (session *models.Session, rawRefreshToken string, err error)

	// RotateRefresh performs the compare-and-swap described in §4.6: if
	// presentedHash matches the family's current refresh hash, it
	// atomically advances the generation and returns the updated
	// session and a fresh raw refresh token. A hash mismatch against a
	// live family is a reuse: the entire family is revoked and
	// autherrors.ErrRefreshReused is returned.
	RotateRefresh(ctx context.Context, familyID uuid.UUID, presentedHash string) (session *models.Session, rawRefreshToken string, err error)

	// RevokeSession marks one session revoked.
	RevokeSession(ctx context.Context, sessionID uuid.UUID, reason models.TerminationReason) error

	// RevokeAllForUser bumps the user's authSecurityVersion and marks
	// every live session for that user revoked, returning the new
	// version.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason models.TerminationReason) (newSecurityVersion int64, err error)

	// ListActive returns every live session for a user.
	ListActive(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)

	// SecurityVersion returns the user's current authSecurityVersion,
	// the value access-token verification compares against (§4.3).
	SecurityVersion(ctx context.Context, userID uuid.UUID) (int64, error)

	// Reap deletes sessions that are revoked or past their absolute or
	// refresh expiry as of now, returning the count removed (§4.6).
	Reap(ctx context.Context, now time.Time) (int, error)
}
