package api

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/linesmerrill/police-cad-dispatch/databases"
)

// AgencyAuthorizer resolves the agencies of a user from the user database and
// caches the answer for a short while
type AgencyAuthorizer struct {
	users databases.UserDatabase
	cache *cache.Cache
}

// NewAgencyAuthorizer creates an authorizer caching lookups for ttl
func NewAgencyAuthorizer(users databases.UserDatabase, ttl time.Duration) *AgencyAuthorizer {
	return &AgencyAuthorizer{
		users: users,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Agencies returns the agencies userID may operate on. Unknown users have none.
func (a *AgencyAuthorizer) Agencies(ctx context.Context, userID string) ([]string, error) {
	if cached, ok := a.cache.Get(userID); ok {
		return slices.Clone(cached.([]string)), nil
	}

	user, err := a.users.FindByID(ctx, userID)
	if errors.Is(err, databases.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	agencies := slices.Clone(user.Details.Agencies)
	a.cache.Set(userID, agencies, cache.DefaultExpiration)
	return slices.Clone(agencies), nil
}

// Forget drops the cached agencies of userID
func (a *AgencyAuthorizer) Forget(userID string) {
	a.cache.Delete(userID)
}
