// Package store provides durable key-value storage for client state.
package store

import "context"

// Keys used for the persisted session triple.
const (
	KeyAuthToken    = "authToken"
	KeyRefreshToken = "refreshToken"
	KeyUserID       = "userId"
)

// KeyValue is platform-provided durable string storage.
type KeyValue interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetMany writes all entries in a single transaction.
	SetMany(ctx context.Context, entries map[string]string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Ping verifies the storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
