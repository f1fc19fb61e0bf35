package server

import (
	"context"
)

// ProfileCache fronts the ProfileStore. Every permission decision
// resolves the owning profile, so cache hits save a store round trip
// on the hottest path.
type ProfileCache interface {
	Get(ctx context.Context, name string) (*Profile, error)
	Set(ctx context.Context, profile *Profile) error
	Delete(ctx context.Context, name string) error
}

// NoOpCache implements the ProfileCache interface but does nothing.
// It is used when no Redis address is configured.
type NoOpCache struct{}

// Get always misses.
func (c *NoOpCache) Get(ctx context.Context, name string) (*Profile, error) {
	return nil, ErrNotFound
}

// Set does nothing.
func (c *NoOpCache) Set(ctx context.Context, profile *Profile) error {
	return nil
}

// Delete does nothing.
func (c *NoOpCache) Delete(ctx context.Context, name string) error {
	return nil
}
