// Package memory keeps security records in process memory. It is meant for
// single-instance deployments and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
)

type securityRecordRepository struct {
	store *gocache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSecurityRecordRepository() repository.SecurityRecordRepository {
	return &securityRecordRepository{
		store: gocache.New(gocache.NoExpiration, 0),
		locks: make(map[string]*sync.Mutex),
	}
}

func key(email string) string {
	return strings.ToLower(email)
}

// lockFor returns nil when no record exists, so lookups for unknown emails
// never add entries. Records are never deleted, which keeps locks bounded by
// the number of records.
func (r *securityRecordRepository) lockFor(email string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key(email)]
	if ok {
		return l
	}
	if _, exists := r.store.Get(key(email)); !exists {
		return nil
	}
	l = &sync.Mutex{}
	r.locks[key(email)] = l
	return l
}

func (r *securityRecordRepository) Create(ctx context.Context, rec *model.SecurityRecord) error {
	rec.Version = 1
	if err := r.store.Add(key(rec.Email), *rec, gocache.NoExpiration); err != nil {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *securityRecordRepository) GetByEmail(ctx context.Context, email string) (*model.SecurityRecord, error) {
	v, ok := r.store.Get(key(email))
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec := v.(model.SecurityRecord)
	return &rec, nil
}

func (r *securityRecordRepository) Mutate(ctx context.Context, email string, fn repository.MutateFunc) error {
	l := r.lockFor(email)
	if l == nil {
		return repository.ErrNotFound
	}
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	v, ok := r.store.Get(key(email))
	if !ok {
		return repository.ErrNotFound
	}
	current := v.(model.SecurityRecord)

	next, changed, err := fn(current)
	if err != nil || !changed {
		return err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	r.store.Set(key(email), next, gocache.NoExpiration)
	return nil
}

func (r *securityRecordRepository) Ping(ctx context.Context) error {
	return nil
}
