// Package identity supplies the acting user. There is no authentication:
// a requested id is honoured when it names a known user, then a configured
// placeholder, then the first user in the directory.
package identity

import (
	"context"
	"errors"
	"fmt"

	"linear/api/internal/model"
)

var ErrNoIdentity = errors.New("no identity available")

// Directory lists users in a stable order.
type Directory interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

type DirectoryFunc func(ctx context.Context) ([]model.User, error)

func (f DirectoryFunc) ListUsers(ctx context.Context) ([]model.User, error) { return f(ctx) }

type Provider struct {
	placeholder string
	directory   Directory
}

func New(placeholder string, directory Directory) *Provider {
	return &Provider{placeholder: placeholder, directory: directory}
}

// Resolve picks the acting user for a request that asked to act as requested
// (which may be empty).
func (p *Provider) Resolve(ctx context.Context, requested string) (model.User, error) {
	users, err := p.directory.ListUsers(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("list users: %w", err)
	}
	return Pick(users, requested, p.placeholder)
}

// Pick applies the resolution order to an already loaded directory.
func Pick(users []model.User, candidates ...string) (model.User, error) {
	for _, candidate := range candidates {
		id := model.NormalizeRef(candidate).String()
		if id == "" {
			continue
		}
		for _, u := range users {
			if u.ID == id {
				return u, nil
			}
		}
	}
	if len(users) > 0 {
		return users[0], nil
	}
	return model.User{}, ErrNoIdentity
}
