package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
)

// Set SECURE_AUTH_TEST_DATABASE_DSN to run against a disposable database.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("SECURE_AUTH_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("SECURE_AUTH_TEST_DATABASE_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func uniqueEmail() string {
	return uuid.NewString() + "@example.com"
}

func TestSecurityRecordRepository_CreateAndGet(t *testing.T) {
	repo := NewSecurityRecordRepository(NewBaseRepository(testDB(t)))
	ctx := context.Background()
	email := uniqueEmail()

	_, err := repo.GetByEmail(ctx, email)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := model.NewSecurityRecord(email, "hash", now)
	require.NoError(t, repo.Create(ctx, &rec))

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.AccountLockedUntil)

	dup := model.NewSecurityRecord(email, "other", now)
	assert.ErrorIs(t, repo.Create(ctx, &dup), repository.ErrAlreadyExists)
}

func TestSecurityRecordRepository_Mutate(t *testing.T) {
	repo := NewSecurityRecordRepository(NewBaseRepository(testDB(t)))
	ctx := context.Background()
	email := uniqueEmail()
	rec := model.NewSecurityRecord(email, "hash", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, &rec))

	until := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
	err := repo.Mutate(ctx, email, func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		cur.FailedLoginAttempts = 5
		cur.AccountLockedUntil = &until
		return cur, true, nil
	})
	require.NoError(t, err)

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedLoginAttempts)
	require.NotNil(t, got.AccountLockedUntil)
	assert.True(t, until.Equal(*got.AccountLockedUntil))
	assert.Equal(t, int64(2), got.Version)

	err = repo.Mutate(ctx, uniqueEmail(), func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		return cur, true, nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSecurityRecordRepository_MutateSerializes(t *testing.T) {
	repo := NewSecurityRecordRepository(NewBaseRepository(testDB(t)))
	ctx := context.Background()
	email := uniqueEmail()
	rec := model.NewSecurityRecord(email, "hash", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, &rec))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Mutate(ctx, email, func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
				cur.FailedLoginAttempts++
				return cur, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedLoginAttempts)
}
