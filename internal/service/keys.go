package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/store"
)

// CreateKeyInput carries the caller-supplied fields of a new key. A nil
// RequestLimit selects the service default.
type CreateKeyInput struct {
	Name         string
	RequestLimit *int
}

// KeyService is the key lifecycle: it authorizes and validates each call,
// delegates to the store, and maps failures into the error taxonomy. It
// holds no per-record state; every read goes to the store.
type KeyService struct {
	store        store.KeyStore
	metrics      *metrics.Metrics
	logger       *slog.Logger
	defaultLimit int
}

// KeyServiceOption configures a KeyService.
type KeyServiceOption func(*KeyService)

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.Metrics) KeyServiceOption {
	return func(s *KeyService) { s.metrics = m }
}

// WithLogger sets the logger for mutation events.
func WithLogger(l *slog.Logger) KeyServiceOption {
	return func(s *KeyService) { s.logger = l }
}

// WithDefaultLimit overrides model.DefaultRequestLimit for new keys.
func WithDefaultLimit(limit int) KeyServiceOption {
	return func(s *KeyService) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

func NewKeyService(ks store.KeyStore, opts ...KeyServiceOption) *KeyService {
	s := &KeyService{
		store:        ks,
		logger:       slog.Default(),
		defaultLimit: model.DefaultRequestLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultLimit returns the request limit given to keys created without one.
func (s *KeyService) DefaultLimit() int { return s.defaultLimit }

// CreateKey creates a key named by the trimmed input name.
func (s *KeyService) CreateKey(ctx context.Context, p *model.Principal, in CreateKeyInput) (k *model.APIKey, err error) {
	defer func() { s.metrics.ObserveKeyOp("create", err) }()

	if err := authorize(p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	limit := s.defaultLimit
	if in.RequestLimit != nil {
		limit = *in.RequestLimit
	}
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := store.ValidateLimit(limit); err != nil {
		return nil, err
	}

	k, err = s.store.InsertKey(ctx, p.UserID, name, limit)
	if err != nil {
		return nil, classify("create key", err)
	}
	s.logger.Info("api key created", "key_id", k.ID, "user_id", p.UserID)
	return k, nil
}

// ListKeys returns the caller's keys, newest first.
func (s *KeyService) ListKeys(ctx context.Context, p *model.Principal) (keys []model.APIKey, err error) {
	defer func() { s.metrics.ObserveKeyOp("list", err) }()

	if err := authorize(p); err != nil {
		return nil, err
	}
	keys, err = s.store.ListKeys(ctx, p.UserID)
	if err != nil {
		return nil, classify("list keys", err)
	}
	return keys, nil
}

// GetKey returns one of the caller's keys.
func (s *KeyService) GetKey(ctx context.Context, p *model.Principal, id string) (k *model.APIKey, err error) {
	defer func() { s.metrics.ObserveKeyOp("get", err) }()

	if err := authorize(p); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	k, err = s.store.GetKey(ctx, p.UserID, id)
	if err != nil {
		return nil, classify("get key", err)
	}
	return k, nil
}

// RenameKey changes a key's name.
func (s *KeyService) RenameKey(ctx context.Context, p *model.Principal, id, name string) (*model.APIKey, error) {
	return s.update(ctx, "rename", p, id, model.KeyUpdate{Name: &name})
}

// SetLimit changes a key's request limit.
func (s *KeyService) SetLimit(ctx context.Context, p *model.Principal, id string, limit int) (*model.APIKey, error) {
	return s.update(ctx, "set_limit", p, id, model.KeyUpdate{RequestLimit: &limit})
}

// UpdateKey applies a partial update of name and request limit together.
// At least one field must be supplied.
func (s *KeyService) UpdateKey(ctx context.Context, p *model.Principal, id string, u model.KeyUpdate) (*model.APIKey, error) {
	return s.update(ctx, "update", p, id, u)
}

func (s *KeyService) update(ctx context.Context, op string, p *model.Principal, id string, u model.KeyUpdate) (k *model.APIKey, err error) {
	defer func() { s.metrics.ObserveKeyOp(op, err) }()

	if err := authorize(p); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if u.IsEmpty() {
		return nil, model.NewValidationError("body", "at least one of name or request_limit is required")
	}
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		u.Name = &trimmed
	}
	if err := store.ValidateUpdate(u); err != nil {
		return nil, err
	}

	k, err = s.store.UpdateKey(ctx, p.UserID, id, u)
	if err != nil {
		return nil, classify(op+" key", err)
	}
	s.logger.Info("api key updated", "key_id", k.ID, "user_id", p.UserID, "op", op)
	return k, nil
}

// RegenerateKey replaces a key's secret. The returned record carries the new
// secret; the old one is permanently invalid.
func (s *KeyService) RegenerateKey(ctx context.Context, p *model.Principal, id string) (k *model.APIKey, err error) {
	defer func() { s.metrics.ObserveKeyOp("regenerate", err) }()

	if err := authorize(p); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	k, err = s.store.ReplaceSecret(ctx, p.UserID, id)
	if err != nil {
		return nil, classify("regenerate key", err)
	}
	s.logger.Info("api key regenerated", "key_id", k.ID, "user_id", p.UserID)
	return k, nil
}

// DeleteKey permanently removes a key. Callers are expected to have
// obtained explicit confirmation before calling.
func (s *KeyService) DeleteKey(ctx context.Context, p *model.Principal, id string) (err error) {
	defer func() { s.metrics.ObserveKeyOp("delete", err) }()

	if err := authorize(p); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.store.DeleteKey(ctx, p.UserID, id); err != nil {
		return classify("delete key", err)
	}
	s.logger.Info("api key deleted", "key_id", id, "user_id", p.UserID)
	return nil
}

// MaskKey returns the display form of a secret.
func (s *KeyService) MaskKey(raw string) string {
	return secret.Mask(raw)
}

// Ping reports whether the backing store is reachable.
func (s *KeyService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func authorize(p *model.Principal) error {
	if p == nil || p.UserID == "" {
		return model.ErrUnauthorized
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError("id", "must not be empty")
	}
	return nil
}

// classify passes taxonomy errors through unchanged and wraps anything else
// as a store failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrStoreUnavailable),
		errors.Is(err, model.ErrUnauthorized),
		model.IsValidation(err):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
}
