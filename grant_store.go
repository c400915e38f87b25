package toolgate

import (
	"context"
	"io"
)

// GrantStore holds live access grants keyed by token fingerprint.
// Implementations must make Consume atomic per fingerprint: of any number of
// concurrent calls for one unconsumed grant exactly one succeeds.
type GrantStore interface {
	// Close stops background maintenance and releases resources.
	io.Closer

	// Put records a new grant. Returns ErrGrantExists if the fingerprint is
	// already live.
	Put(ctx context.Context, grant *Grant) error

	// Consume validates and consumes the grant for fingerprint.
	// Returns ErrInvalidToken, ErrExpired (and deletes the grant) or
	// ErrAlreadyUsed; on success returns a copy with Consumed set.
	Consume(ctx context.Context, fingerprint string) (*Grant, error)

	// Sweep removes every grant with ExpiresAt <= now and returns how many.
	Sweep(ctx context.Context) (int, error)

	// Count returns the number of grants currently held, expired or not.
	Count(ctx context.Context) int
}
