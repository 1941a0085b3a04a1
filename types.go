package authguard

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/finbudget/authguard/internal/audit"
	"github.com/finbudget/authguard/internal/throttle"
)

// IdentityKind discriminates the two ways a caller can be identified for
// rate-limiting purposes.
type IdentityKind uint8

const (
	// IdentityAddress identifies the caller by network address.
	IdentityAddress IdentityKind = iota
	// IdentityUser identifies the caller by authenticated user ID.
	IdentityUser
)

// CallerIdentity is one identity of an inbound request. A single request may
// carry several (its IP plus the authenticated user); each is budgeted
// independently.
type CallerIdentity struct {
	Kind  IdentityKind
	Value string
}

// ByAddress builds a network-address identity.
func ByAddress(addr string) CallerIdentity {
	return CallerIdentity{Kind: IdentityAddress, Value: addr}
}

// ByUser builds an authenticated-user identity.
func ByUser(userID string) CallerIdentity {
	return CallerIdentity{Kind: IdentityUser, Value: userID}
}

// OperationClass is the coarse request category. Read and Mutation carry
// independent budgets.
type OperationClass uint8

const (
	// ClassRead covers requests whose method carries no payload.
	ClassRead OperationClass = iota
	// ClassMutation covers payload-bearing methods.
	ClassMutation
)

// ClassForMethod derives the operation class from an HTTP method. Methods
// that carry a request payload (POST, PUT, PATCH) are mutations; everything
// else counts against the read budget.
func ClassForMethod(method string) OperationClass {
	switch method {
	case "POST", "PUT", "PATCH":
		return ClassMutation
	default:
		return ClassRead
	}
}

// Decision is the outcome of a request rate-limit check. When Allowed is
// false, RetryAfter carries the longest wait across all denied identities.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// LoginState is the throttle state of a (user, ip) pair.
type LoginState = throttle.State

const (
	// LoginAllowed means the attempt may proceed to credential verification.
	LoginAllowed = throttle.StateAllowed
	// LoginDelayed means the pair is in escalating backoff.
	LoginDelayed = throttle.StateDelayed
	// LoginLocked means the pair has hit the lock threshold.
	LoginLocked = throttle.StateLocked
)

// LoginStatus is the typed outcome of a throttle check or failure recording.
// RetryAfter is meaningful for Delayed and Locked; LockedUntil and CanUnlock
// only for Locked.
type LoginStatus struct {
	State       LoginState
	RetryAfter  time.Duration
	LockedUntil time.Time
	CanUnlock   bool
}

// LoginAttempt carries the boundary-supplied facts about one login attempt.
// UserID, Email and Name may be empty when the submitted identifier matched
// no account. ClientIP and UserAgent feed the audit log only.
type LoginAttempt struct {
	UserID    string
	IP        string
	Email     string
	Name      string
	ClientIP  string
	UserAgent string
}

// LoginAttemptRecord is the persisted per-(user, ip) failure state owned by
// the login throttle. It is never deleted, only reset on success.
type LoginAttemptRecord = throttle.Record

// UnlockDecision records why email unlock is (or is not) available for a
// locked pair. Keeping the reasons explicit makes the lock, notify, and audit
// steps testable in isolation.
type UnlockDecision struct {
	CanUnlock bool
	Reasons   []string
}

// TwoFactorRecord is the stored per-user TOTP state: the AES-GCM encrypted
// secret and the nonce it was sealed with. Plaintext exists only transiently
// during verification.
type TwoFactorRecord struct {
	EncryptedSecret []byte
	Nonce           []byte
}

// TwoFactorResult reports a successful second-factor verification.
// BackupUsed tells the caller to prompt for backup-code regeneration.
type TwoFactorResult struct {
	BackupUsed bool
}

// AttemptStore persists LoginAttemptRecord state. Update must apply the
// read-modify-write atomically: two concurrent failures for the same pair
// must not both observe the pre-increment count.
type AttemptStore interface {
	Get(ctx context.Context, userID, ip string) (*LoginAttemptRecord, error)
	Update(ctx context.Context, userID, ip string, apply func(LoginAttemptRecord) LoginAttemptRecord) (*LoginAttemptRecord, error)
	Reset(ctx context.Context, userID, ip string) error
	ResetUser(ctx context.Context, userID string) error
}

// UnlockTokenStore persists single-use unlock tokens. Redeem consumes the
// token exactly once; a second redemption, or redemption after expiry, fails
// with ErrUnlockTokenInvalid.
type UnlockTokenStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, token string) (string, error)
}

// TwoFactorStore provides the persisted 2FA collaborator surface: the
// encrypted secret record and atomic consumption of backup codes by hash.
type TwoFactorStore interface {
	GetTwoFactor(ctx context.Context, userID string) (*TwoFactorRecord, error)
	ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// TwoFactorLimiter counts failed second-factor attempts per user,
// independently of the login throttle.
type TwoFactorLimiter interface {
	Check(ctx context.Context, userID string) error
	RecordFailure(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
}

// Mailer delivers the out-of-band locked-account notification. Dispatch is
// fire-and-forget: errors are logged by the engine and never surfaced.
type Mailer interface {
	SendAccountLockedEmail(ctx context.Context, recipient, name, userID, token, unlockURL string) error
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
