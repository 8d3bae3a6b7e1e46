package model

import (
	"time"

	"github.com/google/uuid"
)

// SecurityRecord is the per-user login security state.
type SecurityRecord struct {
	Base
	Email               string     `json:"email" db:"email"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	FailedLoginAttempts int        `json:"failed_login_attempts" db:"failed_login_attempts"`
	AccountLockedUntil  *time.Time `json:"account_locked_until,omitempty" db:"account_locked_until"`
	LastPasswordChange  *time.Time `json:"last_password_change,omitempty" db:"last_password_change"`
	// Version is bumped on every write and used by stores that do
	// optimistic concurrency.
	Version int64 `json:"-" db:"version"`
}

// NewSecurityRecord returns a fresh record for email with its password set at now.
func NewSecurityRecord(email, passwordHash string, now time.Time) SecurityRecord {
	rec := SecurityRecord{
		Base: Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Email: email,
	}
	rec.SetPasswordHash(passwordHash, now)
	return rec
}

// SetPasswordHash (re)establishes the password. The failure counter and any
// lock are cleared and LastPasswordChange is stamped.
func (r *SecurityRecord) SetPasswordHash(hash string, now time.Time) {
	r.PasswordHash = hash
	r.FailedLoginAttempts = 0
	r.AccountLockedUntil = nil
	changed := now
	r.LastPasswordChange = &changed
}
