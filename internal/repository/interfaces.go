package repository

import (
	"context"
	"errors"

	"github.com/jwalitptl/secure-auth/internal/model"
)

var (
	ErrNotFound      = errors.New("security record not found")
	ErrAlreadyExists = errors.New("security record already exists")
	ErrConflict      = errors.New("security record was modified concurrently")
)

// MutateFunc receives the current record and returns the record to store.
// Returning changed=false skips the write.
type MutateFunc func(current model.SecurityRecord) (next model.SecurityRecord, changed bool, err error)

type SecurityRecordRepository interface {
	Create(ctx context.Context, rec *model.SecurityRecord) error
	GetByEmail(ctx context.Context, email string) (*model.SecurityRecord, error)
	// Mutate runs a read-modify-write on the record for email. Calls for the
	// same email never interleave, and a stored change is visible to the
	// next GetByEmail or Mutate.
	Mutate(ctx context.Context, email string, fn MutateFunc) error
	Ping(ctx context.Context) error
}
