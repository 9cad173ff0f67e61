// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Directory is an in-memory UserRepository.
// It is the default store when no database is configured.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*User)}
}

// FindByUsernameOrEmail implements UserRepository.
func (d *Directory) FindByUsernameOrEmail(_ context.Context, identifier string) (*User, error) {
	email := strings.ToLower(identifier)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var inactive *User
	for _, u := range d.users {
		if u.Username != identifier && u.Email != email {
			continue
		}
		if u.IsActive {
			return u.Clone(), nil
		}
		if inactive == nil || newer(u, inactive) {
			inactive = u
		}
	}
	if inactive != nil {
		return inactive.Clone(), nil
	}
	return nil, oops.Code(CodeUserNotFound).With("identifier", identifier).Wrap(ErrNotFound)
}

// newer orders inactive matches newest first, the same way the postgres
// repository does. ID breaks ties so map order never decides.
func newer(a, b *User) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// GetByID implements UserRepository.
func (d *Directory) GetByID(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, oops.Code(CodeUserNotFound).With("user_id", id).Wrap(ErrNotFound)
	}
	return u.Clone(), nil
}

// Save implements UserRepository.
func (d *Directory) Save(_ context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return oops.Code(CodeUserInvalid).Errorf("user ID is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if user.IsActive {
		for id, other := range d.users {
			if id == user.ID || !other.IsActive {
				continue
			}
			if other.Username == user.Username || other.Email == user.Email {
				return oops.Code(CodeUserDuplicate).
					With("username", user.Username).
					With("email", user.Email).
					Errorf("username or email already in use")
			}
		}
	}

	d.users[user.ID] = user.Clone()
	return nil
}

// ListActive implements UserRepository.
func (d *Directory) ListActive(_ context.Context) ([]*User, error) {
	return d.list(true), nil
}

// ListAll implements UserRepository.
func (d *Directory) ListAll(_ context.Context) ([]*User, error) {
	return d.list(false), nil
}

// Count implements UserRepository.
func (d *Directory) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users), nil
}

func (d *Directory) list(activeOnly bool) []*User {
	d.mu.RLock()
	out := make([]*User, 0, len(d.users))
	for _, u := range d.users {
		if activeOnly && !u.IsActive {
			continue
		}
		out = append(out, u.Clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Compile-time interface check.
var _ UserRepository = (*Directory)(nil)
