// Package lockout decides whether a login attempt succeeds and how the
// security record changes as a result. It never reads a clock and never
// persists anything; callers pass now in and store the returned record.
package lockout

import (
	"fmt"
	"time"

	"github.com/jwalitptl/secure-auth/internal/model"
	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
)

// Verifier compares a raw credential against a stored hash. A non-nil error
// means the capability itself is broken, not that the password was wrong.
type Verifier interface {
	Verify(rawPassword, storedHash string) (bool, error)
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(rawPassword, storedHash string) (bool, error)

func (f VerifierFunc) Verify(rawPassword, storedHash string) (bool, error) {
	return f(rawPassword, storedHash)
}

// Clock is the time source callers sample once per attempt.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

type Outcome int

const (
	Success Outcome = iota
	InvalidCredential
	AccountLocked
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case InvalidCredential:
		return "invalid_credential"
	case AccountLocked:
		return "account_locked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes a single attempt.
type Result struct {
	Outcome Outcome
	// Changed is true when the returned record differs from the input and
	// must be persisted.
	Changed bool
	// LockTriggered is true only on the attempt that set a new lock.
	LockTriggered bool
	LockedUntil   *time.Time
	Attempts      int
}

// Allowed reports whether the login succeeded.
func (r Result) Allowed() bool {
	return r.Outcome == Success
}

// RetryAfter is how long until the lock expires, or zero when unlocked.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.LockedUntil == nil || !r.LockedUntil.After(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// Guard applies a Policy to login attempts. It holds no per-record state and
// is safe for concurrent use.
type Guard struct {
	policy   Policy
	verifier Verifier
}

func NewGuard(policy Policy, verifier Verifier) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, apperrors.Configuration("password verifier is required", nil)
	}
	return &Guard{policy: policy, verifier: verifier}, nil
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// IsLocked reports whether rec is inside an active lock window at now.
// A lock ending exactly at now has expired.
func IsLocked(rec model.SecurityRecord, now time.Time) bool {
	return rec.AccountLockedUntil != nil && rec.AccountLockedUntil.After(now)
}

// AttemptLogin evaluates rawPassword against rec at time now and returns the
// decision with the record the caller must store. rec itself is not modified.
func (g *Guard) AttemptLogin(rec model.SecurityRecord, rawPassword string, now time.Time) (Result, model.SecurityRecord, error) {
	if IsLocked(rec, now) {
		return Result{
			Outcome:     AccountLocked,
			LockedUntil: copyTime(rec.AccountLockedUntil),
			Attempts:    rec.FailedLoginAttempts,
		}, rec, nil
	}

	ok, err := g.verifier.Verify(rawPassword, rec.PasswordHash)
	if err != nil {
		return Result{}, rec, fmt.Errorf("verify credential: %w", err)
	}

	next := rec
	if !ok {
		next.FailedLoginAttempts++
		res := Result{Outcome: InvalidCredential, Changed: true, Attempts: next.FailedLoginAttempts}
		if next.FailedLoginAttempts >= g.policy.Threshold {
			until := now.Add(g.policy.Duration)
			next.AccountLockedUntil = &until
			res.LockTriggered = true
		}
		res.LockedUntil = copyTime(next.AccountLockedUntil)
		return res, next, nil
	}

	changed := next.FailedLoginAttempts != 0 || next.AccountLockedUntil != nil
	next.FailedLoginAttempts = 0
	next.AccountLockedUntil = nil
	return Result{Outcome: Success, Changed: changed}, next, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
