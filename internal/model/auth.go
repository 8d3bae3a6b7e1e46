package model

import "time"

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ChangePasswordRequest struct {
	Email           string `json:"email" binding:"required,email"`
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type LoginResponse struct {
	Email        string    `json:"email"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// LockoutEvent is published when an account is locked or its password changes.
type LockoutEvent struct {
	Type        string     `json:"type"`
	RecordID    string     `json:"record_id"`
	Email       string     `json:"email"`
	Attempts    int        `json:"failed_login_attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

const (
	EventAccountLocked   = "auth.account_locked"
	EventPasswordChanged = "auth.password_changed"
)
