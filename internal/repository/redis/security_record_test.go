package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
)

// Set SECURE_AUTH_TEST_REDIS_URL to run against a live server. Keys are
// namespaced per test and removed afterwards.
func testRepo(t *testing.T) repository.SecurityRecordRepository {
	t.Helper()
	url := os.Getenv("SECURE_AUTH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SECURE_AUTH_TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)

	prefix := "secure-auth-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return NewSecurityRecordRepository(client, prefix)
}

func TestSecurityRecordRepository_RoundTripKeepsHash(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rec := model.NewSecurityRecord("frank@example.com", "$2a$10$hash", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, &rec))
	assert.ErrorIs(t, repo.Create(ctx, &rec), repository.ErrAlreadyExists)

	got, err := repo.GetByEmail(ctx, "Frank@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, rec.ID, got.ID)
}

func TestSecurityRecordRepository_MutateSerializes(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rec := model.NewSecurityRecord("grace@example.com", "hash", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, &rec))

	const workers = 5
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Mutate(ctx, "grace@example.com", func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
				cur.FailedLoginAttempts++
				return cur, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByEmail(ctx, "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedLoginAttempts)
	assert.Equal(t, int64(workers+1), got.Version)

	err = repo.Mutate(ctx, "nobody@example.com", func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		return cur, true, nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
