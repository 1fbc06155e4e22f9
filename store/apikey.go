package store

import (
	"context"
)

// APIKey holds the bcrypt hash of an issued key's random component. The
// plaintext key (user_<external_id>_<random>) is shown once at mint time.
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	SecretHash string
	CreatedTs  int64
	LastUsedTs int64
	RevokedTs  int64
}

func (k *APIKey) Revoked() bool {
	return k.RevokedTs > 0
}

type FindAPIKey struct {
	ID     *string
	UserID *string
	// IncludeRevoked includes revoked keys; default lists active only.
	IncludeRevoked bool
}

type UpdateAPIKey struct {
	ID         string
	LastUsedTs *int64
	RevokedTs  *int64
}

func (s *Store) CreateAPIKey(ctx context.Context, create *APIKey) (*APIKey, error) {
	return s.driver.CreateAPIKey(ctx, create)
}

func (s *Store) ListAPIKeys(ctx context.Context, find *FindAPIKey) ([]*APIKey, error) {
	return s.driver.ListAPIKeys(ctx, find)
}

func (s *Store) UpdateAPIKey(ctx context.Context, update *UpdateAPIKey) (*APIKey, error) {
	return s.driver.UpdateAPIKey(ctx, update)
}
