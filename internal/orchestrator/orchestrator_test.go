package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	zredis "github.com/zeromicro/go-zero/core/stores/redis"

	"github.com/shieldgate/authcore/internal/audit"
	"github.com/shieldgate/authcore/internal/cache"
	"github.com/shieldgate/authcore/internal/challenges"
	"github.com/shieldgate/authcore/internal/credentials"
	"github.com/shieldgate/authcore/internal/hasher"
	"github.com/shieldgate/authcore/internal/keystore"
	"github.com/shieldgate/authcore/internal/models"
	"github.com/shieldgate/authcore/internal/ratelimit"
	"github.com/shieldgate/authcore/internal/risk"
	"github.com/shieldgate/authcore/internal/sessions"
	"github.com/shieldgate/authcore/internal/tokens"
	"github.com/shieldgate/authcore/internal/users"
)

// collectingSink is a fake audit.Sink that records every event
// delivered to it, mirroring the recordingSink fixture in
// internal/audit's own test suite.
type collectingSink struct {
	mu     sync.Mutex
	events []models.AuthEvent
}

func (s *collectingSink) Write(_ context.Context, event models.AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectingSink) snapshot() []models.AuthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuthEvent, len(s.events))
	copy(out, s.events)
	return out
}

func waitForEvent(t *testing.T, sink *collectingSink, kind models.AuthEventType) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range sink.snapshot() {
			if e.Type == kind {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %s never observed", kind)
}

// fixedRiskEngine builds a risk.Engine whose Evaluate always returns
// exactly score, using the documented §6 default thresholds
// (challengeFloor=40, denyFloor=80).
func fixedRiskEngine(score float64) *risk.Engine {
	return risk.New(risk.Thresholds{ChallengeFloor: 40, DenyFloor: 80}, risk.Weighted{
		Name:   "fixed",
		Weight: score,
		Fn:     func(ctx context.Context, in risk.Input) (float64, string) { return 1, "fixed for test" },
	})
}

type harness struct {
	orch        *Orchestrator
	users       *users.MemoryDirectory
	credentials *credentials.MemoryRegistry
	sessions    *sessions.MemoryStore
	sink        *collectingSink
}

// newHarness wires every C1-C9/C11 dependency the orchestrator needs
// with in-memory/miniredis backings, the same fixtures each package's
// own test suite uses, so these tests exercise the real component
// implementations rather than hand-rolled mocks.
func newHarness(t *testing.T, riskScore float64) *harness {
	t.Helper()

	signing, err := keystore.GenerateRSASigningKey(1, 2048)
	require.NoError(t, err)
	keys, err := keystore.New(
		[]keystore.SigningKey{signing},
		[]keystore.EncryptionKey{{Version: 1, Key: [32]byte{1, 2, 3}}},
		[]keystore.PepperKey{{Version: 1, Value: []byte("pepper-v1")}},
	)
	require.NoError(t, err)

	h := hasher.New(hasher.Peppers{Active: 1, ByVersion: map[int][]byte{1: []byte("pepper-v1")}}, hasher.DefaultParams)

	tokenSvc := tokens.New(keys, tokens.DefaultConfig("authcore-test", []string{"authcore-test"}))

	mr := miniredis.RunT(t)
	rlStore := zredis.New(mr.Addr())
	limiter := ratelimit.New(rlStore, ratelimit.DefaultPolicies())

	substrate, err := cache.New(cache.Config{}, nil)
	require.NoError(t, err)

	userDir := users.NewMemoryDirectory()
	credRegistry := credentials.NewMemoryRegistry()
	sessionStore := sessions.NewMemoryStore()
	broker := challenges.New(challenges.NewMemoryStore())

	sink := &collectingSink{}
	emitter := audit.New(64, sink)
	t.Cleanup(emitter.Close)

	engine := fixedRiskEngine(riskScore)

	orch := New(Dependencies{
		Users:       userDir,
		Credentials: credRegistry,
		Sessions:    sessionStore,
		Challenges:  broker,
		Risk:        engine,
		RateLimiter: limiter,
		Hasher:      h,
		Keys:        keys,
		Tokens:      tokenSvc,
		Cache:       substrate,
		Audit:       emitter,
	}, DefaultTTLConfig())

	return &harness{orch: orch, users: userDir, credentials: credRegistry, sessions: sessionStore, sink: sink}
}

// seedPasswordUser creates an active user with a hashed password
// credential, the fixture every password-login test builds on.
func (h *harness) seedPasswordUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	ctx := context.Background()

	user := &models.User{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		Email:     email,
		Status:    models.StatusActive,
	}
	require.NoError(t, h.users.CreateUser(ctx, user))

	hh := hasher.New(hasher.Peppers{Active: 1, ByVersion: map[int][]byte{1: []byte("pepper-v1")}}, hasher.DefaultParams)
	digest, err := hh.Hash(password, []byte("0123456789abcdef"))
	require.NoError(t, err)

	require.NoError(t, h.credentials.UpsertPassword(ctx, &models.PasswordCredential{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		UserID:    user.ID,
		Digest:    digest,
	}))
	return user
}

// Scenario 1 (§8): happy password login below challengeFloor succeeds,
// mints tokens with the knowledge factor, and emits login.succeeded.
func TestAuthenticate_HappyPathMintsTokens(t *testing.T) {
	h := newHarness(t, 10) // well under challengeFloor=40
	user := h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	outcome := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")

	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.NotEmpty(t, outcome.Tokens.AccessToken)
	require.NotEmpty(t, outcome.Tokens.RefreshToken)
	require.Equal(t, user.ID, outcome.User.ID)
	require.Equal(t, models.FactorKnowledge, outcome.Factors)

	active, err := h.sessions.ListActive(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, int64(0), active[0].Generation)

	waitForEvent(t, h.sink, models.EventLoginSucceeded)
}

// Scenario (§8): wrong password and unknown email both return the same
// InvalidCredential-shaped denial, the enumeration-prevention property.
func TestAuthenticate_WrongPasswordAndUnknownUserLookIdentical(t *testing.T) {
	h := newHarness(t, 10)
	h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	wrongPW := h.orch.Authenticate(context.Background(), "alice@example.com", "wrong-password", "fp-1", "9.9.9.9", "UA1")
	require.Equal(t, OutcomeDenied, wrongPW.Kind)
	require.Equal(t, "invalid_credential", wrongPW.DeniedReason)

	unknownUser := h.orch.Authenticate(context.Background(), "nobody@example.com", "whatever", "fp-1", "9.9.9.9", "UA1")
	require.Equal(t, OutcomeDenied, unknownUser.Kind)
	require.Equal(t, "invalid_credential", unknownUser.DeniedReason)
}

// Scenario 4 (§8): risk between challengeFloor and denyFloor demands a
// step-up challenge rather than minting tokens directly.
func TestAuthenticate_StepUpChallengeRequired(t *testing.T) {
	h := newHarness(t, 60) // between challengeFloor=40 and denyFloor=80
	user := h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	require.NoError(t, h.credentials.UpsertTOTP(context.Background(), &models.TOTPEnrollment{
		BaseModel:     models.BaseModel{ID: uuid.New()},
		UserID:        user.ID,
		EncryptedSeed: []byte("irrelevant-for-issue"),
		DriftWindows:  1,
	}))

	outcome := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")

	require.Equal(t, OutcomeChallengeRequired, outcome.Kind)
	require.NotEqual(t, uuid.Nil, outcome.ChallengeID)
	require.Equal(t, models.VariantTOTP, outcome.Variant)
}

// Scenario (§8, §4.10.1): risk at or above denyFloor denies outright
// and emits a risk.denied security event, without minting tokens.
func TestAuthenticate_HighRiskDenied(t *testing.T) {
	h := newHarness(t, 95) // >= denyFloor=80
	h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	outcome := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")

	require.Equal(t, OutcomeDenied, outcome.Kind)
	require.Equal(t, "risk_denied", outcome.DeniedReason)
	waitForEvent(t, h.sink, models.EventRiskDenied)
}

// Scenario 2 (§8): refresh reuse detection. Rotating the original
// refresh token once succeeds; presenting the superseded token again
// is treated as theft, revokes the whole family, and the new token
// that resulted from the legitimate rotation also stops working.
func TestRefresh_ReuseRevokesFamily(t *testing.T) {
	h := newHarness(t, 10)
	h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	login := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, login.Kind)
	originalRefresh := login.Tokens.RefreshToken

	rotated := h.orch.Refresh(context.Background(), originalRefresh, "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, rotated.Kind)
	require.NotEqual(t, originalRefresh, rotated.Tokens.RefreshToken)

	reused := h.orch.Refresh(context.Background(), originalRefresh, "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeDenied, reused.Kind)
	require.Equal(t, "refresh_reused", reused.DeniedReason)
	waitForEvent(t, h.sink, models.EventRefreshReused)

	// The family is now revoked outright: even the token minted by the
	// legitimate rotation above no longer works (§4.6 RotateRefresh
	// requires session.Live(now), and Revoked sessions aren't live).
	afterRevoke := h.orch.Refresh(context.Background(), rotated.Tokens.RefreshToken, "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeDenied, afterRevoke.Kind)
}

// Scenario 5 (§8): LogoutAll bumps the security version; an access
// token minted before the call is rejected by ValidateAccessToken,
// even though it has not yet hit its own expiry.
func TestLogoutAll_InvalidatesPriorAccessTokens(t *testing.T) {
	h := newHarness(t, 10)
	user := h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	login := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, login.Kind)

	_, _, _, _, err := h.orch.ValidateAccessToken(context.Background(), login.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, h.orch.LogoutAll(context.Background(), user.ID))

	_, _, _, _, err = h.orch.ValidateAccessToken(context.Background(), login.Tokens.AccessToken)
	require.Error(t, err)
}

// Logout revokes a single session without touching the user's other
// live sessions or bumping the security version.
func TestLogout_RevokesOnlyThatSession(t *testing.T) {
	h := newHarness(t, 10)
	user := h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	login := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, login.Kind)

	require.NoError(t, h.orch.Logout(context.Background(), login.Session.ID))

	active, err := h.sessions.ListActive(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, active)

	// The security version is untouched, so a fresh login still works.
	again := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, again.Kind)
}

// Scenario 3 (§8): password-auth rate limiting. DefaultPolicies caps
// password-auth at 5 per 15-minute window keyed by (ip, email); the
// 6th attempt in the window is rejected before credential verification
// even runs.
func TestAuthenticate_RateLimitedAfterBudgetExhausted(t *testing.T) {
	h := newHarness(t, 10)
	h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	for i := 0; i < 5; i++ {
		outcome := h.orch.Authenticate(context.Background(), "alice@example.com", "wrong-password", "fp-1", "1.2.3.4", "UA1")
		require.Equal(t, OutcomeDenied, outcome.Kind, "attempt %d", i)
	}

	limited := h.orch.Authenticate(context.Background(), "alice@example.com", "wrong-password", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeRateLimited, limited.Kind)
}

// ResolveMFA (§4.10.2): a correctly-resolved TOTP step-up mints tokens
// with both knowledge, possession, and inherence factors set.
func TestResolveMFA_CorrectCodeMintsTokensWithStepUpFactors(t *testing.T) {
	h := newHarness(t, 60)
	user := h.seedPasswordUser(t, "alice@example.com", "P@ssw0rd!")

	seed, err := challenges.GenerateTOTPSeed("authcore-test", "alice@example.com")
	require.NoError(t, err)
	ciphertext, version, err := h.orch.deps.Keys.Seal([]byte(seed))
	require.NoError(t, err)
	require.NoError(t, h.credentials.UpsertTOTP(context.Background(), &models.TOTPEnrollment{
		BaseModel:     models.BaseModel{ID: uuid.New()},
		UserID:        user.ID,
		EncryptedSeed: ciphertext,
		KeyVersion:    version,
		DriftWindows:  1,
	}))

	login := h.orch.Authenticate(context.Background(), "alice@example.com", "P@ssw0rd!", "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeChallengeRequired, login.Kind)

	code, err := totp.GenerateCode(seed, time.Now().UTC())
	require.NoError(t, err)

	resolved := h.orch.ResolveMFA(context.Background(), login.ChallengeID, login.Variant, code, user.ID, "fp-1", "1.2.3.4", "UA1")
	require.Equal(t, OutcomeSuccess, resolved.Kind)
	require.Equal(t, models.FactorKnowledge|models.FactorPossession|models.FactorInherence, resolved.Factors)
}
