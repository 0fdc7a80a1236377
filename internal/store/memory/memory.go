// Package memory is a process-local implementation of the record store, used
// by tests and by ephemeral server runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/store"
)

// Store keeps records in maps guarded by a single mutex.
type Store struct {
	mu      sync.RWMutex
	gen     store.SecretGenerator
	keys    map[string]model.APIKey
	secrets map[string]string // secret -> key id
	users   map[string]model.User
	now     func() time.Time
}

var (
	_ store.KeyStore  = (*Store)(nil)
	_ store.UserStore = (*Store)(nil)
)

// New returns an empty store drawing secrets from gen.
func New(gen store.SecretGenerator) *Store {
	return &Store{
		gen:     gen,
		keys:    make(map[string]model.APIKey),
		secrets: make(map[string]string),
		users:   make(map[string]model.User),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Store) InsertKey(ctx context.Context, ownerID, name string, requestLimit int) (*model.APIKey, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := store.ValidateLimit(requestLimit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := model.APIKey{
		ID:           uuid.Must(uuid.NewV7()).String(),
		OwnerID:      ownerID,
		Name:         name,
		RequestLimit: requestLimit,
		CreatedAt:    s.now(),
	}
	_, err := store.WithSecretRetry(s.gen, func(secret string) error {
		if _, taken := s.secrets[secret]; taken {
			return store.ErrDuplicateSecret
		}
		k.Secret = secret
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.keys[k.ID] = k
	s.secrets[k.Secret] = k.ID
	return &k, nil
}

func (s *Store) ListKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.APIKey{}
	for _, k := range s.keys {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) GetKey(ctx context.Context, ownerID, id string) (*model.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	return &k, nil
}

func (s *Store) UpdateKey(ctx context.Context, ownerID, id string, u model.KeyUpdate) (*model.APIKey, error) {
	if err := store.ValidateUpdate(u); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	if u.Name != nil {
		k.Name = *u.Name
	}
	if u.RequestLimit != nil {
		k.RequestLimit = *u.RequestLimit
	}
	s.keys[id] = k
	return &k, nil
}

func (s *Store) ReplaceSecret(ctx context.Context, ownerID, id string) (*model.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	secret, err := store.WithSecretRetry(s.gen, func(secret string) error {
		if _, taken := s.secrets[secret]; taken {
			return store.ErrDuplicateSecret
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	delete(s.secrets, k.Secret)
	k.Secret = secret
	s.secrets[secret] = id
	s.keys[id] = k
	return &k, nil
}

func (s *Store) DeleteKey(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID {
		return model.ErrNotFound
	}
	delete(s.keys, id)
	delete(s.secrets, k.Secret)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	if u.Provider == "" || u.Subject == "" {
		return model.NewValidationError("subject", "provider and subject are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, existing := range s.users {
		if existing.Provider == u.Provider && existing.Subject == u.Subject {
			existing.Email = u.Email
			existing.Name = u.Name
			existing.LastLoginAt = now
			s.users[id] = existing
			*u = existing
			return nil
		}
	}

	u.ID = uuid.Must(uuid.NewV7()).String()
	u.CreatedAt = now
	u.LastLoginAt = now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, model.ErrNotFound)
	}
	return &u, nil
}
