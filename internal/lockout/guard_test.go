package lockout

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/secure-auth/internal/model"
	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
)

const goodPassword = "hunter2-correct"

// countingVerifier treats the hash as the plaintext and records every call.
type countingVerifier struct {
	calls int
	err   error
}

func (v *countingVerifier) Verify(raw, hash string) (bool, error) {
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return raw == hash, nil
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func newTestGuard(t *testing.T, p Policy) (*Guard, *countingVerifier) {
	t.Helper()
	v := &countingVerifier{}
	g, err := NewGuard(p, v)
	require.NoError(t, err)
	return g, v
}

func freshRecord() model.SecurityRecord {
	return model.SecurityRecord{Email: "user@example.com", PasswordHash: goodPassword}
}

func TestNewGuard_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		verifier Verifier
	}{
		{"zero threshold", Policy{Threshold: 0, Duration: time.Minute}, &countingVerifier{}},
		{"negative threshold", Policy{Threshold: -3, Duration: time.Minute}, &countingVerifier{}},
		{"negative duration", Policy{Threshold: 5, Duration: -time.Second}, &countingVerifier{}},
		{"nil verifier", DefaultPolicy(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(tt.policy, tt.verifier)
			assert.Nil(t, g)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrConfiguration))
		})
	}
}

func TestNewGuard_ZeroDurationAllowed(t *testing.T) {
	_, err := NewGuard(Policy{Threshold: 1, Duration: 0}, &countingVerifier{})
	assert.NoError(t, err)
}

func TestAttemptLogin_FailureBelowThreshold(t *testing.T) {
	g, _ := newTestGuard(t, DefaultPolicy())

	for start := 0; start < DefaultThreshold-1; start++ {
		rec := freshRecord()
		rec.FailedLoginAttempts = start

		res, next, err := g.AttemptLogin(rec, "wrong", t0)
		require.NoError(t, err)
		assert.Equal(t, InvalidCredential, res.Outcome)
		assert.False(t, res.Allowed())
		assert.True(t, res.Changed)
		assert.False(t, res.LockTriggered)
		assert.Equal(t, start+1, next.FailedLoginAttempts)
		assert.Nil(t, next.AccountLockedUntil)
		assert.Equal(t, start, rec.FailedLoginAttempts, "input record must not be modified")
	}
}

func TestAttemptLogin_ThresholdReachedLocksOnSameCall(t *testing.T) {
	g, _ := newTestGuard(t, Policy{Threshold: 3, Duration: 10 * time.Minute})
	rec := freshRecord()
	rec.FailedLoginAttempts = 2

	res, next, err := g.AttemptLogin(rec, "wrong", at(7))
	require.NoError(t, err)
	assert.Equal(t, InvalidCredential, res.Outcome)
	assert.True(t, res.LockTriggered)
	assert.Equal(t, 3, next.FailedLoginAttempts)
	require.NotNil(t, next.AccountLockedUntil)
	assert.Equal(t, at(17), *next.AccountLockedUntil)
	assert.Equal(t, at(17), *res.LockedUntil)
	assert.Equal(t, 10*time.Minute, res.RetryAfter(at(7)))
}

func TestAttemptLogin_ThresholdOfOne(t *testing.T) {
	g, _ := newTestGuard(t, Policy{Threshold: 1, Duration: time.Minute})

	res, next, err := g.AttemptLogin(freshRecord(), "wrong", t0)
	require.NoError(t, err)
	assert.True(t, res.LockTriggered)
	assert.Equal(t, 1, next.FailedLoginAttempts)
	assert.True(t, IsLocked(next, t0))
}

func TestAttemptLogin_LockedSkipsVerification(t *testing.T) {
	g, v := newTestGuard(t, DefaultPolicy())
	until := at(15)
	rec := freshRecord()
	rec.FailedLoginAttempts = 5
	rec.AccountLockedUntil = &until

	for _, pw := range []string{goodPassword, "wrong"} {
		res, next, err := g.AttemptLogin(rec, pw, at(5))
		require.NoError(t, err)
		assert.Equal(t, AccountLocked, res.Outcome)
		assert.False(t, res.Changed)
		assert.Equal(t, rec, next)
		assert.Equal(t, 10*time.Minute, res.RetryAfter(at(5)))
	}
	assert.Zero(t, v.calls)
}

func TestAttemptLogin_LockBoundaryIsExpired(t *testing.T) {
	g, v := newTestGuard(t, DefaultPolicy())
	until := at(15)
	rec := freshRecord()
	rec.FailedLoginAttempts = 5
	rec.AccountLockedUntil = &until

	res, _, err := g.AttemptLogin(rec, goodPassword, at(15))
	require.NoError(t, err)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, 1, v.calls)
}

func TestAttemptLogin_FailureAfterExpiryKeepsCounting(t *testing.T) {
	g, _ := newTestGuard(t, Policy{Threshold: 5, Duration: 15 * time.Minute})
	until := at(15)
	rec := freshRecord()
	rec.FailedLoginAttempts = 5
	rec.AccountLockedUntil = &until

	res, next, err := g.AttemptLogin(rec, "wrong", at(16))
	require.NoError(t, err)
	assert.Equal(t, InvalidCredential, res.Outcome)
	assert.Equal(t, 6, next.FailedLoginAttempts)
	assert.True(t, res.LockTriggered)
	require.NotNil(t, next.AccountLockedUntil)
	assert.Equal(t, at(31), *next.AccountLockedUntil)
}

func TestAttemptLogin_SuccessResets(t *testing.T) {
	g, _ := newTestGuard(t, DefaultPolicy())
	expired := at(-1)

	records := map[string]model.SecurityRecord{
		"clean":           freshRecord(),
		"some failures":   {PasswordHash: goodPassword, FailedLoginAttempts: 3},
		"expired lock":    {PasswordHash: goodPassword, FailedLoginAttempts: 9, AccountLockedUntil: &expired},
		"stale lock only": {PasswordHash: goodPassword, AccountLockedUntil: &expired},
	}

	for name, rec := range records {
		t.Run(name, func(t *testing.T) {
			res, next, err := g.AttemptLogin(rec, goodPassword, t0)
			require.NoError(t, err)
			assert.True(t, res.Allowed())
			assert.Zero(t, next.FailedLoginAttempts)
			assert.Nil(t, next.AccountLockedUntil)
			assert.Zero(t, res.RetryAfter(t0))
		})
	}
}

func TestAttemptLogin_SuccessIsIdempotent(t *testing.T) {
	g, _ := newTestGuard(t, DefaultPolicy())
	rec := freshRecord()
	rec.FailedLoginAttempts = 2

	res1, rec, err := g.AttemptLogin(rec, goodPassword, at(0))
	require.NoError(t, err)
	res2, rec, err := g.AttemptLogin(rec, goodPassword, at(1))
	require.NoError(t, err)

	assert.True(t, res1.Allowed())
	assert.True(t, res1.Changed)
	assert.True(t, res2.Allowed())
	assert.False(t, res2.Changed, "already reset record needs no write")
	assert.Zero(t, rec.FailedLoginAttempts)
	assert.Nil(t, rec.AccountLockedUntil)
}

func TestAttemptLogin_VerifierErrorPropagates(t *testing.T) {
	boom := errors.New("hash backend down")
	v := &countingVerifier{err: boom}
	g, err := NewGuard(DefaultPolicy(), v)
	require.NoError(t, err)

	rec := freshRecord()
	rec.FailedLoginAttempts = 2
	_, next, err := g.AttemptLogin(rec, goodPassword, t0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, rec, next)
}

func TestAttemptLogin_LockoutScenario(t *testing.T) {
	g, v := newTestGuard(t, Policy{Threshold: 5, Duration: 15 * time.Minute})
	rec := freshRecord()

	for minute := 0; minute < 4; minute++ {
		var res Result
		var err error
		res, rec, err = g.AttemptLogin(rec, "wrong", at(minute))
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Nil(t, rec.AccountLockedUntil)
	}
	assert.Equal(t, 4, rec.FailedLoginAttempts)

	res, rec, err := g.AttemptLogin(rec, "wrong", at(4))
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.True(t, res.LockTriggered)
	assert.Equal(t, 5, rec.FailedLoginAttempts)
	require.NotNil(t, rec.AccountLockedUntil)
	assert.Equal(t, at(19), *rec.AccountLockedUntil)

	callsBefore := v.calls
	res, rec, err = g.AttemptLogin(rec, goodPassword, at(10))
	require.NoError(t, err)
	assert.Equal(t, AccountLocked, res.Outcome)
	assert.Equal(t, 5, rec.FailedLoginAttempts)
	assert.Equal(t, callsBefore, v.calls)

	res, rec, err = g.AttemptLogin(rec, goodPassword, at(20))
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Zero(t, rec.FailedLoginAttempts)
	assert.Nil(t, rec.AccountLockedUntil)
}

func TestAttemptLogin_SuccessBelowThresholdNeverLocks(t *testing.T) {
	g, _ := newTestGuard(t, DefaultPolicy())
	rec := freshRecord()
	rec.FailedLoginAttempts = 3

	res, next, err := g.AttemptLogin(rec, goodPassword, t0)
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.False(t, res.LockTriggered)
	assert.Zero(t, next.FailedLoginAttempts)
	assert.Nil(t, next.AccountLockedUntil)
}

func TestAttemptLogin_DoesNotAliasLockTimestamp(t *testing.T) {
	g, _ := newTestGuard(t, Policy{Threshold: 1, Duration: time.Minute})

	res, next, err := g.AttemptLogin(freshRecord(), "wrong", t0)
	require.NoError(t, err)
	*res.LockedUntil = at(100)
	assert.Equal(t, at(1), *next.AccountLockedUntil)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "invalid_credential", InvalidCredential.String())
	assert.Equal(t, "account_locked", AccountLocked.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestAttemptLogin_ZeroDurationExpiresImmediately(t *testing.T) {
	g, v := newTestGuard(t, Policy{Threshold: 1, Duration: 0})

	res, next, err := g.AttemptLogin(freshRecord(), "wrong", t0)
	require.NoError(t, err)
	assert.True(t, res.LockTriggered)
	require.NotNil(t, next.AccountLockedUntil)
	assert.Equal(t, t0, *next.AccountLockedUntil)
	assert.False(t, IsLocked(next, t0))

	res, next, err = g.AttemptLogin(next, goodPassword, t0)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, 2, v.calls)
	assert.Nil(t, next.AccountLockedUntil)
}
