package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
)

const uniqueViolation = "23505"

const selectRecord = `
	SELECT id, email, password_hash, failed_login_attempts, account_locked_until,
		last_password_change, version, created_at, updated_at
	FROM security_records
	WHERE email = $1
`

type securityRecordRepository struct {
	BaseRepository
}

func NewSecurityRecordRepository(base BaseRepository) repository.SecurityRecordRepository {
	return &securityRecordRepository{base}
}

func (r *securityRecordRepository) Create(ctx context.Context, rec *model.SecurityRecord) error {
	query := `
		INSERT INTO security_records (
			id, email, password_hash, failed_login_attempts, account_locked_until,
			last_password_change, version, created_at, updated_at
		) VALUES (:id, :email, :password_hash, :failed_login_attempts, :account_locked_until,
			:last_password_change, :version, :created_at, :updated_at)
	`

	rec.Version = 1
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create security record: %w", err)
	}
	return nil
}

func (r *securityRecordRepository) GetByEmail(ctx context.Context, email string) (*model.SecurityRecord, error) {
	var rec model.SecurityRecord
	if err := r.db.GetContext(ctx, &rec, selectRecord, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get security record: %w", err)
	}
	return &rec, nil
}

// Mutate holds a row lock for the duration of fn so concurrent attempts for
// the same account queue up behind each other.
func (r *securityRecordRepository) Mutate(ctx context.Context, email string, fn repository.MutateFunc) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.SecurityRecord
		if err := tx.GetContext(ctx, &current, selectRecord+" FOR UPDATE", email); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("failed to lock security record: %w", err)
		}

		next, changed, err := fn(current)
		if err != nil || !changed {
			return err
		}

		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		query := `
			UPDATE security_records SET
				password_hash = :password_hash,
				failed_login_attempts = :failed_login_attempts,
				account_locked_until = :account_locked_until,
				last_password_change = :last_password_change,
				version = :version,
				updated_at = :updated_at
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, &next); err != nil {
			return fmt.Errorf("failed to update security record: %w", err)
		}
		return nil
	})
}
