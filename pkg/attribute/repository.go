package attribute

import "context"

// Store holds generic attributes per user
type Store interface {
	// Get returns the values of one attribute, or an empty slice when unset
	Get(ctx context.Context, userID, name string) ([]string, error)
	// Set replaces all values of an attribute. An empty list removes it.
	Set(ctx context.Context, userID, name string, values []string) error
	// Remove deletes one attribute
	Remove(ctx context.Context, userID, name string) error
	// All returns every attribute of a user
	All(ctx context.Context, userID string) (map[string][]string, error)
	// RemoveAll deletes every attribute of a user
	RemoveAll(ctx context.Context, userID string) error
}
