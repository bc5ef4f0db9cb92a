package memory

import (
	"context"
	"time"
)

type identityKey struct {
	scope string
	name  string
}

// IdentityCache implements ports.IdentityCache in process memory. Entries do not
// survive a restart; use it for single-process hosts and tests.
type IdentityCache struct {
	entries *TTL[identityKey, string]
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{entries: NewTTL[identityKey, string]()}
}

func (c *IdentityCache) Lookup(_ context.Context, scopeKey, name string, now time.Time) (string, bool, error) {
	id, ok := c.entries.Get(identityKey{scope: scopeKey, name: name}, now)
	return id, ok, nil
}

func (c *IdentityCache) Store(_ context.Context, scopeKey, name, targetID string, expiresAt int64) error {
	c.entries.Set(identityKey{scope: scopeKey, name: name}, targetID, time.UnixMilli(expiresAt))
	return nil
}

func (c *IdentityCache) PurgeExpired(_ context.Context, now time.Time) error {
	c.entries.Purge(now)
	return nil
}

func (c *IdentityCache) Initialize(context.Context) error { return nil }

func (c *IdentityCache) Destroy(context.Context) error {
	c.entries.Clear()
	return nil
}
