package authguard

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or incompletely constructed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidCredentials is the generic credential failure. The precise
	// reason is recorded only in the audit log.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTwoFactorInvalid is the generic second-factor failure. It never
	// discloses whether the TOTP code or the backup code was wrong.
	ErrTwoFactorInvalid = errors.New("invalid two-factor authentication code")
	// ErrTwoFactorRateLimited means the per-user 2FA attempt budget is spent.
	ErrTwoFactorRateLimited = errors.New("two-factor attempts rate limited")
	// ErrTwoFactorNotConfigured means no encrypted secret exists for the user.
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")
	// ErrUnlockTokenInvalid covers unknown, expired, and already-redeemed
	// unlock tokens alike.
	ErrUnlockTokenInvalid = errors.New("invalid unlock token")
	// ErrStoreUnavailable wraps persistent-store failures. Throttle and audit
	// state must not be silently skipped, so these propagate to the boundary.
	ErrStoreUnavailable = errors.New("security store unavailable")
	// ErrConfigInvalid wraps configuration errors detected at construction.
	ErrConfigInvalid = errors.New("invalid configuration")
)
