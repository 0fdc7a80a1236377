// Package storetest runs a shared behavioral suite against any
// store.KeyStore implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/store"
)

// Opener returns a fresh store that draws secrets from gen. The store is
// closed by the suite.
type Opener func(t *testing.T, gen store.SecretGenerator) store.KeyStore

// ScriptedGenerator yields queued secrets first, then falls back to a real
// generator. It is safe for concurrent use.
type ScriptedGenerator struct {
	mu       sync.Mutex
	queue    []string
	fallback *secret.Generator
}

// NewScriptedGenerator returns a generator that yields secrets in order
// before falling back to random ones with the default prefix.
func NewScriptedGenerator(secrets ...string) *ScriptedGenerator {
	return &ScriptedGenerator{queue: secrets, fallback: secret.MustGenerator("", "")}
}

// Push queues more secrets.
func (g *ScriptedGenerator) Push(secrets ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, secrets...)
}

func (g *ScriptedGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) > 0 {
		s := g.queue[0]
		g.queue = g.queue[1:]
		return s, nil
	}
	return g.fallback.Generate()
}

// Run exercises the KeyStore contract. Every subtest uses its own random
// owner so the suite can run against a shared, non-empty database.
func Run(t *testing.T, open Opener) {
	t.Helper()
	ctx := context.Background()
	matcher := secret.MustGenerator("", "")

	newOwner := func() string { return "owner-" + uuid.NewString() }

	t.Run("InsertDefaults", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		k, err := s.InsertKey(ctx, owner, "development", 1000)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}
		if k.ID == "" {
			t.Error("expected id to be assigned")
		}
		if k.Usage != 0 {
			t.Errorf("usage = %d, want 0", k.Usage)
		}
		if k.RequestLimit != 1000 {
			t.Errorf("request_limit = %d, want 1000", k.RequestLimit)
		}
		if k.Name != "development" {
			t.Errorf("name = %q, want %q", k.Name, "development")
		}
		if !matcher.Matches(k.Secret) {
			t.Errorf("secret %q does not match generation rule", k.Secret)
		}
		if k.CreatedAt.IsZero() {
			t.Error("expected created_at to be assigned")
		}
		if k.OwnerID != owner {
			t.Errorf("owner = %q, want %q", k.OwnerID, owner)
		}

		got, err := s.GetKey(ctx, owner, k.ID)
		if err != nil {
			t.Fatalf("GetKey: %v", err)
		}
		if got.Secret != k.Secret || got.Name != k.Name || !got.CreatedAt.Equal(k.CreatedAt) {
			t.Errorf("GetKey = %+v, want %+v", got, k)
		}
	})

	t.Run("InsertValidation", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		tests := []struct {
			name  string
			key   string
			limit int
			field string
		}{
			{"empty name", "", 10, "name"},
			{"blank name", "   ", 10, "name"},
			{"zero limit", "ok", 0, "request_limit"},
			{"negative limit", "ok", -5, "request_limit"},
			{"limit above 32-bit range", "ok", store.MaxRequestLimit + 1, "request_limit"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.InsertKey(ctx, owner, tt.key, tt.limit)
				assertField(t, err, tt.field)
			})
		}

		keys, err := s.ListKeys(ctx, owner)
		if err != nil {
			t.Fatalf("ListKeys: %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("rejected inserts persisted %d records", len(keys))
		}
	})

	t.Run("ListOrderAndScope", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner, other := newOwner(), newOwner()

		empty, err := s.ListKeys(ctx, owner)
		if err != nil {
			t.Fatalf("ListKeys: %v", err)
		}
		if empty == nil || len(empty) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", empty)
		}

		var ids []string
		for _, name := range []string{"first", "second", "third"} {
			k, err := s.InsertKey(ctx, owner, name, 10)
			if err != nil {
				t.Fatalf("InsertKey(%s): %v", name, err)
			}
			ids = append(ids, k.ID)
		}
		if _, err := s.InsertKey(ctx, other, "foreign", 10); err != nil {
			t.Fatalf("InsertKey(foreign): %v", err)
		}

		keys, err := s.ListKeys(ctx, owner)
		if err != nil {
			t.Fatalf("ListKeys: %v", err)
		}
		if len(keys) != 3 {
			t.Fatalf("got %d keys, want 3", len(keys))
		}
		for i, want := range []string{ids[2], ids[1], ids[0]} {
			if keys[i].ID != want {
				t.Errorf("keys[%d].ID = %s, want %s", i, keys[i].ID, want)
			}
		}
		for i := 1; i < len(keys); i++ {
			if keys[i].CreatedAt.After(keys[i-1].CreatedAt) {
				t.Errorf("keys[%d] created after keys[%d]", i, i-1)
			}
		}
	})

	t.Run("OwnerIsolation", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner, intruder := newOwner(), newOwner()

		k, err := s.InsertKey(ctx, owner, "private", 10)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}
		name := "stolen"
		if _, err := s.GetKey(ctx, intruder, k.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("GetKey from other owner: got %v, want ErrNotFound", err)
		}
		if _, err := s.UpdateKey(ctx, intruder, k.ID, model.KeyUpdate{Name: &name}); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("UpdateKey from other owner: got %v, want ErrNotFound", err)
		}
		if _, err := s.ReplaceSecret(ctx, intruder, k.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("ReplaceSecret from other owner: got %v, want ErrNotFound", err)
		}
		if err := s.DeleteKey(ctx, intruder, k.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("DeleteKey from other owner: got %v, want ErrNotFound", err)
		}

		got, err := s.GetKey(ctx, owner, k.ID)
		if err != nil {
			t.Fatalf("GetKey: %v", err)
		}
		if got.Name != "private" || got.Secret != k.Secret {
			t.Errorf("record changed by other owner: %+v", got)
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		k, err := s.InsertKey(ctx, owner, "development", 1000)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}

		name := "dev-2"
		got, err := s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{Name: &name})
		if err != nil {
			t.Fatalf("UpdateKey(name): %v", err)
		}
		if got.Name != "dev-2" || got.RequestLimit != 1000 || got.Secret != k.Secret || got.ID != k.ID {
			t.Errorf("after rename: %+v", got)
		}

		limit := 50
		got, err = s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{RequestLimit: &limit})
		if err != nil {
			t.Fatalf("UpdateKey(limit): %v", err)
		}
		if got.Name != "dev-2" || got.RequestLimit != 50 {
			t.Errorf("after set-limit: %+v", got)
		}

		got, err = s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{Name: &name, RequestLimit: &limit})
		if err != nil {
			t.Fatalf("UpdateKey(unchanged values): %v", err)
		}
		if got.Name != "dev-2" || got.RequestLimit != 50 {
			t.Errorf("after no-op update: %+v", got)
		}

		got, err = s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{})
		if err != nil {
			t.Fatalf("UpdateKey(empty): %v", err)
		}
		if got.Name != "dev-2" || got.RequestLimit != 50 {
			t.Errorf("empty update changed record: %+v", got)
		}

		bad := 0
		_, err = s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{Name: &name, RequestLimit: &bad})
		assertField(t, err, "request_limit")
		huge := store.MaxRequestLimit + 1
		_, err = s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{RequestLimit: &huge})
		assertField(t, err, "request_limit")
		got, _ = s.GetKey(ctx, owner, k.ID)
		if got.RequestLimit != 50 {
			t.Errorf("rejected update was partially applied: %+v", got)
		}

		if _, err := s.UpdateKey(ctx, owner, uuid.NewString(), model.KeyUpdate{Name: &name}); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("UpdateKey(missing): got %v, want ErrNotFound", err)
		}
	})

	t.Run("ReplaceSecret", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		k, err := s.InsertKey(ctx, owner, "rotate-me", 42)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}
		got, err := s.ReplaceSecret(ctx, owner, k.ID)
		if err != nil {
			t.Fatalf("ReplaceSecret: %v", err)
		}
		if got.Secret == k.Secret {
			t.Error("secret was not replaced")
		}
		if !matcher.Matches(got.Secret) {
			t.Errorf("new secret %q does not match generation rule", got.Secret)
		}
		if got.ID != k.ID || got.Name != k.Name || got.RequestLimit != k.RequestLimit ||
			got.Usage != k.Usage || !got.CreatedAt.Equal(k.CreatedAt) {
			t.Errorf("regenerate changed other fields: before %+v after %+v", k, got)
		}

		if _, err := s.ReplaceSecret(ctx, owner, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("ReplaceSecret(missing): got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteIsPermanent", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		k, err := s.InsertKey(ctx, owner, "doomed", 10)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}
		if err := s.DeleteKey(ctx, owner, k.ID); err != nil {
			t.Fatalf("DeleteKey: %v", err)
		}
		if _, err := s.GetKey(ctx, owner, k.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("GetKey after delete: got %v, want ErrNotFound", err)
		}
		if err := s.DeleteKey(ctx, owner, k.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("second DeleteKey: got %v, want ErrNotFound", err)
		}
		keys, _ := s.ListKeys(ctx, owner)
		if len(keys) != 0 {
			t.Errorf("got %d keys after delete, want 0", len(keys))
		}
	})

	t.Run("SecretCollision", func(t *testing.T) {
		taken := mustGenerate(matcher)
		fresh := mustGenerate(matcher)
		gen := NewScriptedGenerator(taken)
		s := openClosed(t, open, gen)
		owner := newOwner()

		first, err := s.InsertKey(ctx, owner, "first", 10)
		if err != nil {
			t.Fatalf("InsertKey(first): %v", err)
		}
		if first.Secret != taken {
			t.Fatalf("first secret = %q, want scripted %q", first.Secret, taken)
		}

		// One collision is absorbed by a single regeneration.
		gen.Push(taken, fresh)
		second, err := s.InsertKey(ctx, owner, "second", 10)
		if err != nil {
			t.Fatalf("InsertKey(second): %v", err)
		}
		if second.Secret != fresh {
			t.Errorf("second secret = %q, want %q", second.Secret, fresh)
		}

		// Two collisions surface as a validation failure.
		gen.Push(taken, fresh)
		_, err = s.InsertKey(ctx, owner, "third", 10)
		assertField(t, err, "secret")

		gen.Push(fresh, fresh)
		_, err = s.ReplaceSecret(ctx, owner, first.ID)
		assertField(t, err, "secret")

		keys, _ := s.ListKeys(ctx, owner)
		if len(keys) != 2 {
			t.Errorf("got %d keys, want 2", len(keys))
		}
		got, _ := s.GetKey(ctx, owner, first.ID)
		if got.Secret != taken {
			t.Errorf("failed regenerate changed the secret to %q", got.Secret)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		owner := newOwner()

		k, err := s.InsertKey(ctx, owner, "development", 1000)
		if err != nil {
			t.Fatalf("InsertKey: %v", err)
		}
		name := "dev-2"
		if _, err := s.UpdateKey(ctx, owner, k.ID, model.KeyUpdate{Name: &name}); err != nil {
			t.Fatalf("UpdateKey: %v", err)
		}
		keys, err := s.ListKeys(ctx, owner)
		if err != nil {
			t.Fatalf("ListKeys: %v", err)
		}
		if len(keys) != 1 || keys[0].Name != "dev-2" || keys[0].ID != k.ID || keys[0].Secret != k.Secret {
			t.Fatalf("after rename: %+v", keys)
		}
		if err := s.DeleteKey(ctx, owner, k.ID); err != nil {
			t.Fatalf("DeleteKey: %v", err)
		}
		keys, _ = s.ListKeys(ctx, owner)
		if len(keys) != 0 {
			t.Errorf("got %d keys after delete, want 0", len(keys))
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := openClosed(t, open, NewScriptedGenerator())
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// RunUsers exercises the UserStore contract.
func RunUsers(t *testing.T, us store.UserStore) {
	t.Helper()
	ctx := context.Background()
	subject := uuid.NewString()

	u := &model.User{Provider: "github", Subject: subject, Email: "a@example.com", Name: "A"}
	if err := us.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser(insert): %v", err)
	}
	if u.ID == "" || u.CreatedAt.IsZero() {
		t.Fatalf("insert did not populate id/created_at: %+v", u)
	}

	again := &model.User{Provider: "github", Subject: subject, Email: "b@example.com", Name: "B"}
	if err := us.UpsertUser(ctx, again); err != nil {
		t.Fatalf("UpsertUser(update): %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("upsert id = %s, want %s", again.ID, u.ID)
	}
	if !again.CreatedAt.Equal(u.CreatedAt) {
		t.Errorf("upsert changed created_at: %v -> %v", u.CreatedAt, again.CreatedAt)
	}

	got, err := us.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != "b@example.com" || got.Name != "B" {
		t.Errorf("GetUser = %+v, want refreshed email/name", got)
	}

	other := &model.User{Provider: "google", Subject: subject}
	if err := us.UpsertUser(ctx, other); err != nil {
		t.Fatalf("UpsertUser(other provider): %v", err)
	}
	if other.ID == u.ID {
		t.Error("same subject under another provider must be a distinct user")
	}

	if _, err := us.GetUser(ctx, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetUser(missing): got %v, want ErrNotFound", err)
	}
	if err := us.UpsertUser(ctx, &model.User{Provider: "github"}); !model.IsValidation(err) {
		t.Errorf("UpsertUser without subject: got %v, want validation error", err)
	}
}

func openClosed(t *testing.T, open Opener, gen store.SecretGenerator) store.KeyStore {
	t.Helper()
	s := open(t, gen)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustGenerate(g *secret.Generator) string {
	s, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return s
}

func assertField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want *model.ValidationError", err)
	}
	if ve.Field != field {
		t.Errorf("field = %q, want %q", ve.Field, field)
	}
}
