// Package config defines the authentication core's configuration
// surface (§6): every recognized option and its default, loaded the
// way the teacher's services/.../rpc/internal/config packages load
// theirs — a plain struct handed to github.com/zeromicro/go-zero/core/conf,
// which rejects unknown keys at load time rather than silently
// ignoring typos.
package config

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
)

// HashParams mirrors hasher.Params without importing the hasher
// package, so config stays a leaf dependency.
type HashParams struct {
	MemoryKiB   uint32 `json:",default=65536"`
	TimeCost    uint32 `json:",default=3"`
	Parallelism uint8  `json:",default=2"`
}

// PepperVersion is one entry in the ordered pepperVersions set (§6).
// The first entry in Config.PepperVersions is primary.
type PepperVersion struct {
	Version int
	Secret  string `json:",optional"` // loaded from env/secret manager, never logged
}

// BreakerConfig maps directly to the breaker.* keys in §6.
type BreakerConfig struct {
	FailureThreshold int           `json:",default=5"`
	RecoveryTimeout  time.Duration `json:",default=30s"`
	MonitoringPeriod time.Duration `json:",default=60s"`
}

// RiskThresholds maps to riskThresholds in §6.
type RiskThresholds struct {
	ChallengeFloor float64 `json:",default=40"`
	DenyFloor      float64 `json:",default=80"`
}

// LockoutConfig maps to lockout in §6 (§4.7 exponential backoff policy).
type LockoutConfig struct {
	Threshold    int           `json:",default=5"`
	BaseDuration time.Duration `json:",default=1m"`
	Cap          time.Duration `json:",default=24h"`
}

// RateLimitOverride lets operators override one DefaultPolicies entry
// without recompiling (§6 rateLimits).
type RateLimitOverride struct {
	Class  string
	Window time.Duration
	Max    int
}

// Config enumerates every recognized option from §6. conf.LoadConfig
// rejects any key present in the source that isn't one of these
// fields, and any field here that is absent from the source falls
// back to its `default` tag.
type Config struct {
	Issuer                   string              `json:",optional"`
	Audience                 []string            `json:",optional"`
	AccessTokenTTL           time.Duration       `json:",default=1h"`
	RefreshTokenTTL          time.Duration       `json:",default=720h"` // 30d
	AbsoluteSessionLifetime  time.Duration       `json:",default=2160h"` // 90d
	MagicLinkTTL             time.Duration       `json:",default=15m"`
	TOTPDriftWindows         int                 `json:",default=1"`
	PasswordHashParams       HashParams          `json:",optional"`
	PepperVersions           []PepperVersion     `json:",optional"`
	Breaker                  BreakerConfig       `json:",optional"`
	RateLimits               []RateLimitOverride `json:",optional"`
	RiskThresholds           RiskThresholds      `json:",optional"`
	Lockout                  LockoutConfig       `json:",optional"`

	Database struct {
		DataSource string
	} `json:",optional"`
	Redis struct {
		Host string
		Pass string `json:",optional"`
		Tls  bool   `json:",optional"`
	} `json:",optional"`
}

// Load reads and strictly validates configuration from path (YAML or
// JSON, per go-zero/core/conf conventions). Any unrecognized key in
// the source is a hard error, matching §9's "unknown options are a
// hard error at load time."
func Load(path string) (Config, error) {
	var c Config
	if err := conf.Load(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return c, nil
}

// MustLoad is Load, panicking on error, for bootstrap code paths that
// have no recovery strategy for a missing or malformed config file —
// matching the teacher's own conf.MustLoad usage at service startup.
func MustLoad(path string) Config {
	var c Config
	conf.MustLoad(path, &c)
	return c
}
