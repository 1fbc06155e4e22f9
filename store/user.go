package store

import (
	"context"
)

// SystemUserExternalID is the stable external id of the synthetic user that
// owns globally-shared personalities.
const SystemUserExternalID = "system"

type User struct {
	ID            string
	ExternalID    string
	Metadata      map[string]string
	AgeVerifiedTs int64 // 0 means not verified
	CreatedTs     int64
	LastActiveTs  int64
}

func (u *User) AgeVerified() bool {
	return u.AgeVerifiedTs > 0
}

type FindUser struct {
	ID         *string
	ExternalID *string
}

type UpdateUser struct {
	ID            string
	Metadata      *map[string]string
	AgeVerifiedTs *int64
	LastActiveTs  *int64
}

func (s *Store) CreateUser(ctx context.Context, create *User) (*User, error) {
	user, err := s.driver.CreateUser(ctx, create)
	if err != nil {
		return nil, err
	}
	s.userCache.Set(user.ExternalID, user)
	return user, nil
}

// EnsureUser returns the user with the given external id, creating it on
// first sight. Concurrent calls for the same external id yield one row.
func (s *Store) EnsureUser(ctx context.Context, externalID string) (*User, error) {
	if v, ok := s.userCache.Get(externalID); ok {
		if user, ok := v.(*User); ok {
			return user, nil
		}
	}
	user, err := s.driver.EnsureUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	s.userCache.Set(externalID, user)
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, find *FindUser) (*User, error) {
	list, err := s.driver.ListUsers(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListUsers(ctx context.Context, find *FindUser) ([]*User, error) {
	return s.driver.ListUsers(ctx, find)
}

func (s *Store) UpdateUser(ctx context.Context, update *UpdateUser) (*User, error) {
	user, err := s.driver.UpdateUser(ctx, update)
	if err != nil {
		return nil, err
	}
	s.userCache.Set(user.ExternalID, user)
	return user, nil
}

// ListRecentlyActiveUsers returns ids of users active since the given
// timestamp, most recent first, bounded by limit.
func (s *Store) ListRecentlyActiveUsers(ctx context.Context, since int64, limit int) ([]string, error) {
	return s.driver.ListRecentlyActiveUsers(ctx, since, limit)
}

// SystemUserID resolves (and memoizes) the synthetic system user that owns
// global personalities, creating it if missing.
func (s *Store) SystemUserID(ctx context.Context) (string, error) {
	if s.systemUserID != "" {
		return s.systemUserID, nil
	}
	user, err := s.driver.EnsureUser(ctx, SystemUserExternalID)
	if err != nil {
		return "", err
	}
	s.systemUserID = user.ID
	return s.systemUserID, nil
}
