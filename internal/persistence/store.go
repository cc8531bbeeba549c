package persistence

import "context"

// Store is the key-value and set storage the ledger and the repository sit on.
// It mirrors the small subset of Redis the bot needs: plain values plus string sets.
type Store interface {
	// Get returns the value under key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key, whether it holds a value or a set. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	// SetMembers returns the members in ascending order, empty when the set does not exist.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
