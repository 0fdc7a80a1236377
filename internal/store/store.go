// Package store persists API-key records and sign-in users.
//
// The store is the sole authority for id, secret and created_at assignment.
// Every mutating operation touches exactly one record and is a single atomic
// write against the backend.
package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/faucetdb/keyhub/internal/model"
)

// MaxNameLength bounds key names so they fit the backing column.
const MaxNameLength = 255

// MaxRequestLimit is the largest request limit every backend can store; the
// column is a 32-bit INTEGER on Postgres, MySQL and SQL Server.
const MaxRequestLimit = math.MaxInt32

// KeyStore is durable CRUD for API-key records, scoped by owner. Reads and
// writes for an id outside the owner's scope behave as if the id did not
// exist.
type KeyStore interface {
	// InsertKey creates a record with a fresh id, secret and created_at and
	// usage set to zero.
	InsertKey(ctx context.Context, ownerID, name string, requestLimit int) (*model.APIKey, error)

	// ListKeys returns the owner's records, newest first.
	ListKeys(ctx context.Context, ownerID string) ([]model.APIKey, error)

	// GetKey returns a single record.
	GetKey(ctx context.Context, ownerID, id string) (*model.APIKey, error)

	// UpdateKey applies a partial update and returns the post-write record.
	UpdateKey(ctx context.Context, ownerID, id string, u model.KeyUpdate) (*model.APIKey, error)

	// ReplaceSecret regenerates the secret, leaving every other field as is.
	ReplaceSecret(ctx context.Context, ownerID, id string) (*model.APIKey, error)

	// DeleteKey permanently removes a record. Deleting a missing id returns
	// model.ErrNotFound.
	DeleteKey(ctx context.Context, ownerID, id string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// UserStore persists identities established through OAuth sign-in.
type UserStore interface {
	// UpsertUser inserts u, or refreshes email, name and last_login_at of the
	// existing user with the same provider and subject. u.ID and u.CreatedAt
	// are populated from the stored row.
	UpsertUser(ctx context.Context, u *model.User) error

	// GetUser returns a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// SecretGenerator produces new key secrets.
type SecretGenerator interface {
	Generate() (string, error)
}

// ErrDuplicateSecret is returned by a backend write when the generated
// secret collides with an existing one.
var ErrDuplicateSecret = errors.New("duplicate secret")

// ValidateName checks a key name as the store persists it.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return model.NewValidationError("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError("name", "must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateLimit checks a request limit.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return model.NewValidationError("request_limit", "must be a positive integer, got %d", limit)
	}
	if limit > MaxRequestLimit {
		return model.NewValidationError("request_limit", "must be at most %d, got %d", MaxRequestLimit, limit)
	}
	return nil
}

// ValidateUpdate checks every field present in u.
func ValidateUpdate(u model.KeyUpdate) error {
	if u.Name != nil {
		if err := ValidateName(*u.Name); err != nil {
			return err
		}
	}
	if u.RequestLimit != nil {
		if err := ValidateLimit(*u.RequestLimit); err != nil {
			return err
		}
	}
	return nil
}

// WithSecretRetry generates a secret and passes it to write. When write
// reports ErrDuplicateSecret a second secret is generated and tried once
// more; a second collision is surfaced as a validation failure.
func WithSecretRetry(gen SecretGenerator, write func(secret string) error) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		secret, err := gen.Generate()
		if err != nil {
			return "", err
		}
		err = write(secret)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrDuplicateSecret) {
			return "", err
		}
	}
	return "", model.NewValidationError("secret", "generated secret collided with an existing key")
}
