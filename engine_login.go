package authguard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	internalaudit "github.com/finbudget/authguard/internal/audit"
	"github.com/finbudget/authguard/internal/throttle"
)

// CheckLogin evaluates the throttle state for the attempt's (user, ip) pair.
// It must run before credential verification and never mutates the record.
// When the pair is locked and self-service unlock is available, a single-use
// unlock token is minted and the notification dispatched, best-effort.
func (e *Engine) CheckLogin(ctx context.Context, attempt LoginAttempt) (LoginStatus, error) {
	if e == nil {
		return LoginStatus{}, ErrEngineNotReady
	}

	rec, err := e.attempts.Get(ctx, attempt.UserID, attempt.IP)
	if err != nil {
		return LoginStatus{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	status := e.evaluate(rec)
	if status.State == LoginLocked {
		decision := e.unlockEligibility(attempt)
		if decision.CanUnlock {
			e.dispatchUnlockNotification(ctx, attempt)
		}
		return loginStatusFrom(status, decision.CanUnlock), nil
	}

	return loginStatusFrom(status, false), nil
}

// RecordLoginFailure is the sole throttle mutator. It advances the failure
// state atomically, appends the audit entry (best-effort), and returns the
// resulting status for the boundary to translate. A store write failure
// propagates: lockout state must never be silently skipped.
func (e *Engine) RecordLoginFailure(ctx context.Context, attempt LoginAttempt) (LoginStatus, error) {
	if e == nil {
		return LoginStatus{}, ErrEngineNotReady
	}

	cfg := e.throttleConfig()
	updated, err := e.attempts.Update(ctx, attempt.UserID, attempt.IP, func(rec LoginAttemptRecord) LoginAttemptRecord {
		return throttle.ApplyFailure(rec, e.now(), cfg)
	})
	if err != nil {
		return LoginStatus{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	event := internalaudit.NewEvent(internalaudit.EventLoginFailed, false)
	event.UserID = attempt.UserID
	event.IP = attempt.ClientIP
	event.UserAgent = attempt.UserAgent
	event.Reason = internalaudit.ReasonInvalidPassword
	e.emitAudit(ctx, event)

	status := e.evaluate(updated)
	if status.State != LoginLocked {
		return loginStatusFrom(status, false), nil
	}

	decision := e.unlockEligibility(attempt)
	if updated.ConsecutiveFailures == cfg.LockThreshold {
		locked := internalaudit.NewEvent(internalaudit.EventAccountLocked, false)
		locked.UserID = attempt.UserID
		locked.IP = attempt.ClientIP
		locked.UserAgent = attempt.UserAgent
		locked.Metadata = map[string]string{
			"locked_until": status.LockedUntil.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		e.emitAudit(ctx, locked)
	}
	if decision.CanUnlock {
		e.dispatchUnlockNotification(ctx, attempt)
	}

	return loginStatusFrom(status, decision.CanUnlock), nil
}

// RecordLoginSuccess resets the pair to Allowed after a verified credential
// check or a completed second factor.
func (e *Engine) RecordLoginSuccess(ctx context.Context, userID, ip string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.attempts.Reset(ctx, userID, ip); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// unlockEligibility is the explicit decision record for the email-unlock
// path. Every missing precondition is named so the lock, notify, and audit
// steps stay independently testable.
func (e *Engine) unlockEligibility(attempt LoginAttempt) UnlockDecision {
	var reasons []string
	if !e.config.Unlock.EnableEmailUnlock {
		reasons = append(reasons, "email_unlock_disabled")
	}
	if e.unlockTokens == nil || e.mailer == nil {
		reasons = append(reasons, "unlock_flow_not_configured")
	}
	if attempt.UserID == "" {
		reasons = append(reasons, "unknown_user")
	}
	if attempt.Email == "" {
		reasons = append(reasons, "no_email")
	}
	return UnlockDecision{CanUnlock: len(reasons) == 0, Reasons: reasons}
}

// dispatchUnlockNotification mints a token and sends the locked-account
// email. Failures are logged and swallowed: notification is a courtesy, the
// lock itself is the security control.
func (e *Engine) dispatchUnlockNotification(ctx context.Context, attempt LoginAttempt) {
	token, err := e.unlockTokens.Create(ctx, attempt.UserID, e.config.Unlock.TokenTTL)
	if err != nil {
		e.logger.Warn("unlock token creation failed",
			zap.String("user_id", attempt.UserID),
			zap.Error(err))
		return
	}

	if err := e.mailer.SendAccountLockedEmail(ctx, attempt.Email, attempt.Name, attempt.UserID, token, e.config.Unlock.UnlockURL); err != nil {
		e.logger.Warn("account locked notification failed",
			zap.String("user_id", attempt.UserID),
			zap.Error(err))
	}
}

func loginStatusFrom(status throttle.Status, canUnlock bool) LoginStatus {
	out := LoginStatus{
		State:      status.State,
		RetryAfter: status.RetryAfter,
	}
	if status.State == LoginLocked {
		out.LockedUntil = status.LockedUntil
		out.CanUnlock = canUnlock
	}
	return out
}
