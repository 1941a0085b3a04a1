package authguard

import (
	"errors"
	"strings"
	"time"
)

// Config groups all engine tuning parameters. Instances are configured once
// before [New] and treated as immutable afterwards; the engine never writes
// to them, so unsynchronized concurrent reads are safe.
type Config struct {
	RateLimit     RateLimitConfig
	LoginThrottle LoginThrottleConfig
	TwoFactor     TwoFactorConfig
	Unlock        UnlockConfig
	Audit         AuditConfig
}

/*
====================================
REQUEST RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the in-memory fixed-window request limiter. A zero
// value disables the limiter: every check returns Allow.
type RateLimitConfig struct {
	ReadLimit     int
	MutationLimit int
	Window        time.Duration

	// SweepInterval bounds counter-map growth under identity churn. Entries
	// whose window expired more than one window ago are evicted. Zero means
	// sweep once per Window.
	SweepInterval time.Duration
}

// Enabled reports whether the limiter has a usable budget configured.
func (c RateLimitConfig) Enabled() bool {
	return c.Window > 0 && (c.ReadLimit > 0 || c.MutationLimit > 0)
}

/*
====================================
LOGIN THROTTLE CONFIG
====================================
*/

// LoginThrottleConfig tunes the persistent per-(user, ip) login throttle.
type LoginThrottleConfig struct {
	// DelayThreshold is the consecutive-failure count at which attempts start
	// being delayed; LockThreshold is where the pair locks hard.
	DelayThreshold int
	LockThreshold  int

	// BaseDelay is the first backoff; it doubles per additional failure up to
	// MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	LockDuration time.Duration

	// RetentionTTL bounds how long an idle attempt record survives in stores
	// that support expiry. Zero keeps records indefinitely.
	RetentionTTL time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig tunes TOTP verification and the 2FA failure limiter.
// EncryptionKey must be exactly 32 bytes (AES-256-GCM); a malformed key is a
// construction-time error, never a per-request one.
type TwoFactorConfig struct {
	EncryptionKey []byte

	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"

	MaxAttempts   int
	AttemptWindow time.Duration
}

/*
====================================
UNLOCK FLOW CONFIG
====================================
*/

// UnlockConfig tunes the self-service account unlock flow.
type UnlockConfig struct {
	EnableEmailUnlock bool
	TokenTTL          time.Duration
	// UnlockURL is the user-facing page the notification links to.
	UnlockURL string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls async audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the thresholds the original deployment shipped with:
// 300 reads / 60 mutations per 60 s window, delay after 3 failures, lock
// after 5, 30 min lock, 5 second-factor attempts per 5 min.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			ReadLimit:     300,
			MutationLimit: 60,
			Window:        time.Minute,
		},
		LoginThrottle: LoginThrottleConfig{
			DelayThreshold: 3,
			LockThreshold:  5,
			BaseDelay:      30 * time.Second,
			MaxDelay:       10 * time.Minute,
			LockDuration:   30 * time.Minute,
			RetentionTTL:   30 * 24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Digits:        6,
			Period:        30,
			Skew:          1,
			Algorithm:     "SHA1",
			MaxAttempts:   5,
			AttemptWindow: 5 * time.Minute,
		},
		Unlock: UnlockConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate fails fast on configuration an engine cannot safely run with.
func (c *Config) Validate() error {
	if c.RateLimit.Enabled() {
		if c.RateLimit.ReadLimit < 0 || c.RateLimit.MutationLimit < 0 {
			return errors.New("RateLimit limits must be >= 0")
		}
		if c.RateLimit.SweepInterval < 0 {
			return errors.New("RateLimit SweepInterval must be >= 0")
		}
	}

	if c.LoginThrottle.DelayThreshold <= 0 {
		return errors.New("LoginThrottle DelayThreshold must be > 0")
	}
	if c.LoginThrottle.LockThreshold < c.LoginThrottle.DelayThreshold {
		return errors.New("LoginThrottle LockThreshold must be >= DelayThreshold")
	}
	if c.LoginThrottle.BaseDelay <= 0 {
		return errors.New("LoginThrottle BaseDelay must be > 0")
	}
	if c.LoginThrottle.MaxDelay < c.LoginThrottle.BaseDelay {
		return errors.New("LoginThrottle MaxDelay must be >= BaseDelay")
	}
	if c.LoginThrottle.LockDuration <= 0 {
		return errors.New("LoginThrottle LockDuration must be > 0")
	}
	if c.LoginThrottle.RetentionTTL < 0 {
		return errors.New("LoginThrottle RetentionTTL must be >= 0")
	}

	if len(c.TwoFactor.EncryptionKey) != 0 && len(c.TwoFactor.EncryptionKey) != 32 {
		return errors.New("TwoFactor EncryptionKey must be exactly 32 bytes")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 10 {
		return errors.New("TwoFactor Digits must be between 6 and 10")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 0 {
		return errors.New("TwoFactor Skew must be >= 0")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}
	if c.TwoFactor.AttemptWindow <= 0 {
		return errors.New("TwoFactor AttemptWindow must be > 0")
	}

	if c.Unlock.EnableEmailUnlock {
		if c.Unlock.TokenTTL <= 0 {
			return errors.New("Unlock TokenTTL must be > 0 when email unlock is enabled")
		}
		if c.Unlock.UnlockURL == "" {
			return errors.New("Unlock UnlockURL must be set when email unlock is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
