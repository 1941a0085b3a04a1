package authguard

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	internalaudit "github.com/finbudget/authguard/internal/audit"
	"github.com/finbudget/authguard/internal/throttle"
	"github.com/finbudget/authguard/internal/window"
)

// Engine is the account-security core: the in-process request rate limiter,
// the persistent login throttle, the two-factor verifier, and the account
// unlock flow. All methods are safe for concurrent use after [New].
type Engine struct {
	config Config

	windows          *window.Store
	attempts         AttemptStore
	unlockTokens     UnlockTokenStore
	twoFactor        TwoFactorStore
	twoFactorLimiter TwoFactorLimiter
	audit            *internalaudit.Dispatcher
	mailer           Mailer
	logger           *zap.Logger

	cipher *secretCipher
	totp   *totpVerifier

	// cryptoSlots bounds concurrent CPU-bound decrypt+verify work so a burst
	// of 2FA submissions cannot starve I/O-bound requests on the scheduler.
	cryptoSlots *semaphore.Weighted

	now func() time.Time
}

// Dependencies carries the engine's collaborators. Attempts is required;
// everything else degrades gracefully: missing unlock tokens or mailer
// disables the email-unlock path, a missing limiter disables the independent
// 2FA budget, a missing sink audits to nowhere, a missing logger stays quiet.
type Dependencies struct {
	Attempts         AttemptStore
	UnlockTokens     UnlockTokenStore
	TwoFactor        TwoFactorStore
	TwoFactorLimiter TwoFactorLimiter
	AuditSink        AuditSink
	Mailer           Mailer
	Logger           *zap.Logger

	// Now overrides the engine clock. Tests use it; production leaves it nil.
	Now func() time.Time
}

// New validates cfg, wires the collaborators, and starts the background
// workers (window janitor, audit dispatcher).
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if deps.Attempts == nil {
		return nil, fmt.Errorf("%w: Dependencies.Attempts is required", ErrConfigInvalid)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:           cfg,
		attempts:         deps.Attempts,
		unlockTokens:     deps.UnlockTokens,
		twoFactor:        deps.TwoFactor,
		twoFactorLimiter: deps.TwoFactorLimiter,
		mailer:           deps.Mailer,
		logger:           logger,
		totp:             newTOTPVerifier(cfg.TwoFactor),
		cryptoSlots:      semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		now:              now,
	}

	if len(cfg.TwoFactor.EncryptionKey) > 0 {
		cipher, err := newSecretCipher(cfg.TwoFactor.EncryptionKey)
		if err != nil {
			return nil, err
		}
		e.cipher = cipher
	}

	if cfg.RateLimit.Enabled() {
		e.windows = window.New(cfg.RateLimit.Window, now)
		e.windows.StartJanitor(cfg.RateLimit.SweepInterval)
	}

	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, deps.AuditSink)

	return e, nil
}

// Close stops the window janitor and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.windows != nil {
		e.windows.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

/*
====================================
REQUEST RATE LIMITER
====================================
*/

// CheckRequest decides allow/deny for one inbound request across its full
// identity set. Every under-limit identity consumes a slot even when another
// identity denies the request; a denial reports the maximum retry-after so
// the caller waits for the slowest-clearing identity. The decision is
// immediate: no I/O, no blocking.
//
// An engine without rate-limit configuration always allows.
func (e *Engine) CheckRequest(identities []CallerIdentity, class OperationClass) Decision {
	if e == nil || e.windows == nil {
		return Decision{Allowed: true}
	}

	limit := e.limitFor(class)
	if limit <= 0 {
		return Decision{Allowed: true}
	}

	var denied bool
	var retryAfter time.Duration
	for _, identity := range identities {
		key := window.Key{
			Kind:  uint8(identity.Kind),
			Value: identity.Value,
			Class: uint8(class),
		}
		allowed, remaining := e.windows.Take(key, limit)
		if !allowed {
			denied = true
			if remaining > retryAfter {
				retryAfter = remaining
			}
		}
	}

	if denied {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

func (e *Engine) limitFor(class OperationClass) int {
	if class == ClassMutation {
		return e.config.RateLimit.MutationLimit
	}
	return e.config.RateLimit.ReadLimit
}

/*
====================================
SHARED HELPERS
====================================
*/

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	e.audit.Emit(ctx, event)
}

func (e *Engine) evaluate(rec *LoginAttemptRecord) throttle.Status {
	return throttle.Evaluate(rec, e.now())
}

func (e *Engine) throttleConfig() throttle.Config {
	return throttle.Config{
		DelayThreshold: e.config.LoginThrottle.DelayThreshold,
		LockThreshold:  e.config.LoginThrottle.LockThreshold,
		BaseDelay:      e.config.LoginThrottle.BaseDelay,
		MaxDelay:       e.config.LoginThrottle.MaxDelay,
		LockDuration:   e.config.LoginThrottle.LockDuration,
	}
}
