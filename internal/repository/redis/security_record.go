package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
)

const defaultMaxRetries = 10

// storedRecord keeps the hash out of model's JSON tags.
type storedRecord struct {
	model.SecurityRecord
	PasswordHash string `json:"password_hash"`
	Version      int64  `json:"version"`
}

type securityRecordRepository struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// NewSecurityRecordRepository stores each record as a JSON string under
// prefix+email. Mutate uses WATCH/MULTI and retries when another writer got
// there first.
func NewSecurityRecordRepository(client *redis.Client, prefix string) repository.SecurityRecordRepository {
	if prefix == "" {
		prefix = "secure-auth:record:"
	}
	return &securityRecordRepository{client: client, prefix: prefix, maxRetries: defaultMaxRetries}
}

func (r *securityRecordRepository) key(email string) string {
	return r.prefix + strings.ToLower(email)
}

func encode(rec model.SecurityRecord) ([]byte, error) {
	return json.Marshal(storedRecord{SecurityRecord: rec, PasswordHash: rec.PasswordHash, Version: rec.Version})
}

func decode(data []byte) (model.SecurityRecord, error) {
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return model.SecurityRecord{}, fmt.Errorf("failed to decode security record: %w", err)
	}
	rec := s.SecurityRecord
	rec.PasswordHash = s.PasswordHash
	rec.Version = s.Version
	return rec, nil
}

func (r *securityRecordRepository) Create(ctx context.Context, rec *model.SecurityRecord) error {
	rec.Version = 1
	data, err := encode(*rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.key(rec.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create security record: %w", err)
	}
	if !ok {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *securityRecordRepository) GetByEmail(ctx context.Context, email string) (*model.SecurityRecord, error) {
	data, err := r.client.Get(ctx, r.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security record: %w", err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *securityRecordRepository) Mutate(ctx context.Context, email string, fn repository.MutateFunc) error {
	key := r.key(email)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(data)
		if err != nil {
			return err
		}

		next, changed, err := fn(current)
		if err != nil || !changed {
			return err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		out, err := encode(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return repository.ErrConflict
}

func (r *securityRecordRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
