package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/dgraph-io/ristretto/v2"
)

// Directory looks up users. Lookups by id are cached in process; users are
// immutable for chat purposes so entries never go stale. Lookups by email or
// name always hit the store.
type Directory struct {
	store registrystore.SpaceStore
	cache *ristretto.Cache[string, *model.User]
}

// NewDirectory returns a directory caching up to size users.
func NewDirectory(store registrystore.SpaceStore, size int64) (*Directory, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *model.User]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	return &Directory{store: store, cache: cache}, nil
}

// Close releases the cache.
func (d *Directory) Close() {
	d.cache.Close()
}

// Get returns the user with id userID.
func (d *Directory) Get(ctx context.Context, userID string) (*model.User, error) {
	if u, ok := d.cache.Get(userID); ok {
		return u, nil
	}
	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.cache.Set(userID, u, 1)
	return u, nil
}

// Ensure returns the user with id userID, registering it with the given
// profile on first sight. An existing user's profile is left unchanged.
func (d *Directory) Ensure(ctx context.Context, userID, displayName, email string) (*model.User, error) {
	u, err := d.Get(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !registrystore.IsNotFound(err) {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = userID
	}
	u = &model.User{ID: userID, DisplayName: displayName, Email: strings.TrimSpace(email)}
	if err := d.store.CreateUser(ctx, u); err != nil {
		if registrystore.IsUniqueViolation(err) {
			return d.Get(ctx, userID)
		}
		return nil, err
	}
	d.cache.Set(userID, u, 1)
	return u, nil
}

// Label is the name used for userID in system messages.
func (d *Directory) Label(ctx context.Context, userID string) string {
	u, err := d.Get(ctx, userID)
	if err != nil {
		return userID
	}
	return u.Label()
}

// Counterpart finds the user a user space is named after: the earliest user
// whose email or display name equals the name. It returns nil when no user
// matches.
func (d *Directory) Counterpart(ctx context.Context, space *model.Space) (*model.User, error) {
	if space.Category != model.SpaceCategoryUser {
		return nil, nil
	}
	u, err := d.store.FindUserByEmailOrName(ctx, space.Name)
	if registrystore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SpaceName is the name a user space pointing at u carries.
func SpaceName(u *model.User) string {
	if u.Email != "" {
		return u.Email
	}
	return u.Label()
}
