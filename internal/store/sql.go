package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/keyhub/internal/model"
)

// Config selects and tunes a SQL backend.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements KeyStore and UserStore on any supported SQL backend.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	driver  string
	gen     SecretGenerator
	now     func() time.Time
}

var (
	_ KeyStore  = (*SQLStore)(nil)
	_ UserStore = (*SQLStore)(nil)
)

const keyColumns = `id, owner_id, name, secret, usage_count, request_limit, created_at`

// Open connects to the configured backend, applies the pool settings and
// runs migrations.
func Open(cfg Config, gen SecretGenerator) (*SQLStore, error) {
	if gen == nil {
		return nil, errors.New("secret generator is required")
	}
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := d.prepareDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", cfg.Driver, err)
	}

	db, err := sqlx.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.sqlDriver, err)
	}

	if d.sqlDriver == "sqlite" {
		// A single connection keeps an in-memory database alive and
		// serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	s := &SQLStore{
		db:      db,
		dialect: d,
		driver:  driver,
		gen:     gen,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Driver returns the backend identifier the store was opened with.
func (s *SQLStore) Driver() string { return s.driver }

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the backend is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// InsertKey creates a record owned by ownerID.
func (s *SQLStore) InsertKey(ctx context.Context, ownerID, name string, requestLimit int) (*model.APIKey, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateLimit(requestLimit); err != nil {
		return nil, err
	}

	k := &model.APIKey{
		ID:           newID(),
		OwnerID:      ownerID,
		Name:         name,
		RequestLimit: requestLimit,
		CreatedAt:    s.now(),
	}
	_, err := WithSecretRetry(s.gen, func(secret string) error {
		k.Secret = secret
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO api_keys (id, owner_id, name, secret, usage_count, request_limit, created_at)
			VALUES (:id, :owner_id, :name, :secret, :usage_count, :request_limit, :created_at)`, k)
		if isUniqueViolation(err) {
			return ErrDuplicateSecret
		}
		return err
	})
	if err != nil {
		return nil, s.wrap("insert key", err)
	}
	return k, nil
}

// ListKeys returns the owner's records, newest first with id as tie-break.
func (s *SQLStore) ListKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	err := s.db.SelectContext(ctx, &keys, s.db.Rebind(
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC, id DESC`), ownerID)
	if err != nil {
		return nil, s.wrap("list keys", err)
	}
	for i := range keys {
		keys[i].CreatedAt = keys[i].CreatedAt.UTC()
	}
	return keys, nil
}

// GetKey returns a single record.
func (s *SQLStore) GetKey(ctx context.Context, ownerID, id string) (*model.APIKey, error) {
	k, err := getKey(ctx, s.db, ownerID, id)
	if err != nil {
		return nil, s.wrap("get key", err)
	}
	return k, nil
}

// UpdateKey applies a partial update. The update and the re-read share one
// transaction so callers never observe a half-applied write.
func (s *SQLStore) UpdateKey(ctx context.Context, ownerID, id string, u model.KeyUpdate) (*model.APIKey, error) {
	if err := ValidateUpdate(u); err != nil {
		return nil, err
	}

	var out *model.APIKey
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if !u.IsEmpty() {
			setClause := ""
			var args []interface{}
			if u.Name != nil {
				setClause = "name = ?"
				args = append(args, *u.Name)
			}
			if u.RequestLimit != nil {
				if setClause != "" {
					setClause += ", "
				}
				setClause += "request_limit = ?"
				args = append(args, *u.RequestLimit)
			}
			args = append(args, id, ownerID)

			result, err := tx.ExecContext(ctx, tx.Rebind(
				"UPDATE api_keys SET "+setClause+" WHERE id = ? AND owner_id = ?"), args...)
			if err != nil {
				return err
			}
			if err := requireRow(result); err != nil {
				return err
			}
		}
		k, err := getKey(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		out = k
		return nil
	})
	if err != nil {
		return nil, s.wrap("update key", err)
	}
	return out, nil
}

// ReplaceSecret generates a new secret for the record. Each attempt runs in
// its own transaction: Postgres aborts a transaction on the first error, so
// a collision retry cannot share it.
func (s *SQLStore) ReplaceSecret(ctx context.Context, ownerID, id string) (*model.APIKey, error) {
	var out *model.APIKey
	_, err := WithSecretRetry(s.gen, func(secret string) error {
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			result, err := tx.ExecContext(ctx, tx.Rebind(
				"UPDATE api_keys SET secret = ? WHERE id = ? AND owner_id = ?"), secret, id, ownerID)
			if isUniqueViolation(err) {
				return ErrDuplicateSecret
			}
			if err != nil {
				return err
			}
			if err := requireRow(result); err != nil {
				return err
			}
			k, err := getKey(ctx, tx, ownerID, id)
			if err != nil {
				return err
			}
			out = k
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("replace secret", err)
	}
	return out, nil
}

// DeleteKey permanently removes a record.
func (s *SQLStore) DeleteKey(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM api_keys WHERE id = ? AND owner_id = ?"), id, ownerID)
	if err != nil {
		return s.wrap("delete key", err)
	}
	if err := requireRow(result); err != nil {
		return s.wrap("delete key", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getKey(ctx context.Context, q queryer, ownerID, id string) (*model.APIKey, error) {
	var k model.APIKey
	err := sqlx.GetContext(ctx, q, &k, q.Rebind(
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.CreatedAt = k.CreatedAt.UTC()
	return &k, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// wrap passes taxonomy errors through and marks everything else as a store
// failure, keeping the cause in the chain.
func (s *SQLStore) wrap(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) || model.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
