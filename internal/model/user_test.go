package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecurityRecord(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	rec := NewSecurityRecord("erin@example.com", "hash", now)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Zero(t, rec.FailedLoginAttempts)
	assert.Nil(t, rec.AccountLockedUntil)
	require.NotNil(t, rec.LastPasswordChange)
	assert.Equal(t, now, *rec.LastPasswordChange)
}

func TestSetPasswordHash_ClearsLockout(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	rec := SecurityRecord{PasswordHash: "old", FailedLoginAttempts: 7, AccountLockedUntil: &until}

	rec.SetPasswordHash("new", now)

	assert.Equal(t, "new", rec.PasswordHash)
	assert.Zero(t, rec.FailedLoginAttempts)
	assert.Nil(t, rec.AccountLockedUntil)
	assert.Equal(t, now, *rec.LastPasswordChange)
}
