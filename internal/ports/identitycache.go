package ports

import (
	"context"
	"time"
)

// IdentityCache persists user/group name -> Docs4U ID mappings, partitioned by scope key.
// Entries outlive connector instances and sessions. Implementations MUST be safe for
// concurrent use; per-entry operations are atomic, cache-wide consistency is best-effort.
type IdentityCache interface {
	// Lookup returns the cached ID and true, or ("", false) when there is no entry or the
	// entry's expiry is at or before now.
	Lookup(ctx context.Context, scopeKey, name string, now time.Time) (string, bool, error)

	// Store upserts an entry, overwriting any earlier one for the same (scopeKey, name).
	// expiresAt is in unix milliseconds.
	Store(ctx context.Context, scopeKey, name, targetID string, expiresAt int64) error

	// PurgeExpired removes every entry whose expiry is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) error

	// Initialize creates the backing storage if needed. Destroy removes it.
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
}
