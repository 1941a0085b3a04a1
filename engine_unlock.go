package authguard

import (
	"context"
	"errors"
	"fmt"

	internalaudit "github.com/finbudget/authguard/internal/audit"
	"github.com/finbudget/authguard/internal/stores"
)

// IssueUnlockToken mints a single-use, time-bounded unlock token for userID.
// Token creation is atomic; notification dispatch is a separate concern and
// never affects the result.
func (e *Engine) IssueUnlockToken(ctx context.Context, userID string) (string, error) {
	if e == nil || e.unlockTokens == nil {
		return "", ErrEngineNotReady
	}
	if userID == "" {
		return "", ErrUnlockTokenInvalid
	}

	token, err := e.unlockTokens.Create(ctx, userID, e.config.Unlock.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// RedeemUnlockToken consumes a token exactly once and resets the login
// throttle for its user across all source addresses. A second redemption, or
// one after expiry, fails with ErrUnlockTokenInvalid.
func (e *Engine) RedeemUnlockToken(ctx context.Context, token string) (string, error) {
	if e == nil || e.unlockTokens == nil {
		return "", ErrEngineNotReady
	}

	userID, err := e.unlockTokens.Redeem(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) || errors.Is(err, ErrUnlockTokenInvalid) {
			return "", ErrUnlockTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.attempts.ResetUser(ctx, userID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	event := internalaudit.NewEvent(internalaudit.EventAccountUnlocked, true)
	event.UserID = userID
	e.emitAudit(ctx, event)

	return userID, nil
}
