package authguard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"math/big"
	"strings"

	internalaudit "github.com/finbudget/authguard/internal/audit"
	"github.com/finbudget/authguard/internal/limiters"
)

const (
	totpSecretBytes = 20

	// No 0/O/1/I: backup codes get read over the phone.
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// VerifyTwoFactor validates a submitted second-factor code against the
// user's stored record: per-user attempt budget first, then the TOTP code
// with clock-skew tolerance, then the unused backup codes. Which of the two
// failed is never disclosed; only the audit log records the reason. On
// success the failure counter resets and BackupUsed tells the caller whether
// to prompt for backup-code regeneration.
//
// Decryption and code derivation are CPU-bound and run under a bounded
// semaphore so concurrent verifications cannot monopolize the scheduler.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID string, record TwoFactorRecord, code, clientIP, userAgent string) (TwoFactorResult, error) {
	if e == nil {
		return TwoFactorResult{}, ErrEngineNotReady
	}
	if e.cipher == nil {
		return TwoFactorResult{}, ErrEngineNotReady
	}
	if len(record.EncryptedSecret) == 0 {
		return TwoFactorResult{}, ErrTwoFactorNotConfigured
	}

	if e.twoFactorLimiter != nil {
		if err := e.twoFactorLimiter.Check(ctx, userID); err != nil {
			if isTwoFactorRateLimited(err) {
				return TwoFactorResult{}, ErrTwoFactorRateLimited
			}
			return TwoFactorResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	totpValid, err := e.verifyTOTPOffloaded(ctx, record, code)
	if err != nil {
		return TwoFactorResult{}, err
	}

	backupValid := false
	if !totpValid && e.twoFactor != nil {
		backupValid, err = e.twoFactor.ConsumeBackupCode(ctx, userID, HashBackupCode(code))
		if err != nil {
			return TwoFactorResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if !totpValid && !backupValid {
		if e.twoFactorLimiter != nil {
			if err := e.twoFactorLimiter.RecordFailure(ctx, userID); err != nil && !isTwoFactorRateLimited(err) {
				return TwoFactorResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		event := internalaudit.NewEvent(internalaudit.EventLoginFailed, false)
		event.UserID = userID
		event.IP = clientIP
		event.UserAgent = userAgent
		event.Reason = internalaudit.ReasonInvalidTwoFactorCode
		e.emitAudit(ctx, event)

		return TwoFactorResult{}, ErrTwoFactorInvalid
	}

	if e.twoFactorLimiter != nil {
		if err := e.twoFactorLimiter.Reset(ctx, userID); err != nil {
			return TwoFactorResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return TwoFactorResult{BackupUsed: backupValid}, nil
}

// isTwoFactorRateLimited matches both the built-in limiter sentinel and the
// public one, so custom TwoFactorLimiter implementations can signal
// exhaustion with ErrTwoFactorRateLimited.
func isTwoFactorRateLimited(err error) bool {
	return errors.Is(err, limiters.ErrRateLimited) || errors.Is(err, ErrTwoFactorRateLimited)
}

// verifyTOTPOffloaded decrypts the secret and checks the code under a crypto
// slot. A failed decryption reports an invalid code, not a distinct error:
// the caller must not become an oracle for ciphertext tampering.
func (e *Engine) verifyTOTPOffloaded(ctx context.Context, record TwoFactorRecord, code string) (bool, error) {
	if err := e.cryptoSlots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer e.cryptoSlots.Release(1)

	secret, err := e.cipher.Open(record.EncryptedSecret, record.Nonce)
	if err != nil {
		return false, nil
	}

	ok, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return false, nil
	}
	return ok, nil
}

/*
====================================
ENROLLMENT HELPERS
====================================
*/

// GenerateTOTPSecret returns a fresh raw secret and its base32 encoding for
// provisioning an authenticator.
func GenerateTOTPSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// EncryptTOTPSecret seals a raw secret into the stored record form.
func (e *Engine) EncryptTOTPSecret(secret []byte) (TwoFactorRecord, error) {
	if e == nil || e.cipher == nil {
		return TwoFactorRecord{}, ErrEngineNotReady
	}
	ciphertext, nonce, err := e.cipher.Seal(secret)
	if err != nil {
		return TwoFactorRecord{}, err
	}
	return TwoFactorRecord{EncryptedSecret: ciphertext, Nonce: nonce}, nil
}

// GenerateBackupCodes returns count fresh plaintext codes and the SHA-256
// hashes to persist. Plaintexts are shown to the user once and never stored.
func GenerateBackupCodes(count, length int) ([]string, [][32]byte, error) {
	if count <= 0 || length <= 0 {
		return nil, nil, errors.New("backup code count and length must be > 0")
	}

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	max := big.NewInt(int64(len(backupCodeAlphabet)))

	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, nil, err
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		code := b.String()
		codes = append(codes, code)
		hashes = append(hashes, HashBackupCode(code))
	}

	return codes, hashes, nil
}

// HashBackupCode normalizes and hashes a backup code for storage or lookup.
// Normalization tolerates the dashes and spacing users type back in.
func HashBackupCode(code string) [32]byte {
	normalized := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-':
			return -1
		}
		return r
	}, code))
	return sha256.Sum256([]byte(normalized))
}
