package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/keyhub/internal/model"
)

const userColumns = `id, provider, subject, email, name, created_at, last_login_at`

var errUserRace = errors.New("concurrent user insert")

// UpsertUser inserts u or refreshes the existing row for the same provider
// and subject. A concurrent first sign-in that loses the insert race retries
// once and takes the update path.
func (s *SQLStore) UpsertUser(ctx context.Context, u *model.User) error {
	if u.Provider == "" || u.Subject == "" {
		return model.NewValidationError("subject", "provider and subject are required")
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			return s.upsertUserTx(ctx, tx, u)
		})
		if !errors.Is(err, errUserRace) {
			break
		}
	}
	if err != nil {
		return s.wrap("upsert user", err)
	}
	return nil
}

func (s *SQLStore) upsertUserTx(ctx context.Context, tx *sqlx.Tx, u *model.User) error {
	now := s.now()

	var existing model.User
	err := tx.GetContext(ctx, &existing, tx.Rebind(
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND subject = ?`), u.Provider, u.Subject)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET email = ?, name = ?, last_login_at = ? WHERE id = ?`),
			u.Email, u.Name, now, existing.ID)
		if err != nil {
			return err
		}
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt.UTC()
		u.LastLoginAt = now
		return nil

	case err == sql.ErrNoRows:
		u.ID = newID()
		u.CreatedAt = now
		u.LastLoginAt = now
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO users (id, provider, subject, email, name, created_at, last_login_at)
			VALUES (:id, :provider, :subject, :email, :name, :created_at, :last_login_at)`, u)
		if isUniqueViolation(err) {
			return errUserRace
		}
		return err

	default:
		return err
	}
}

// GetUser returns a user by id.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastLoginAt = u.LastLoginAt.UTC()
	return &u, nil
}
