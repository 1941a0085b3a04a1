// Package authguard provides the account-security core of an HTTP API: an
// in-process fixed-window request rate limiter keyed by caller identity, a
// persistent login-attempt throttle with escalating delay and terminal
// lockout, a TOTP + backup-code second-factor verifier, and a single-use
// account unlock flow.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after [New].
//
// # Architecture boundaries
//
// authguard is the public surface. It exposes [Engine], [Config], the typed
// outcomes ([Decision], [LoginStatus], [TwoFactorResult]), and the
// collaborator interfaces the host application implements or wires
// ([AttemptStore], [UnlockTokenStore], [TwoFactorStore], [Mailer]). Counter
// mechanics, throttle policy, audit dispatch, and the Redis store
// implementations live under internal/; the Postgres implementations are
// importable from the postgres subpackage; HTTP wiring from middleware.
//
// # Failure semantics
//
// Security decisions (limited, delayed, locked, invalid code) are typed
// outcomes, never disclosing more than the boundary should forward.
// Persistent-store failures propagate as [ErrStoreUnavailable]: throttle
// updates and lockouts must not be skipped silently. Audit and notification
// dispatch are best-effort and never fail a request.
package authguard
