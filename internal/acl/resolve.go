package acl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	log "github.com/sirupsen/logrus"
)

// UserLookup resolves a name against the remote repository.
type UserLookup interface {
	FindUserOrGroup(ctx context.Context, name string) (id string, ok bool, err error)
}

// Resolver maps translated names to IDs through the identity cache, falling back to
// the remote repository on a miss.
type Resolver struct {
	Cache  ports.IdentityCache
	Locker ports.Locker
	// Lifetime is how long a resolved ID stays cached.
	Lifetime time.Duration
	// LookupTimeout bounds the lock wait plus the remote lookup for one name.
	LookupTimeout time.Duration
	// PurgeInterval is the minimum time between two purges; it defaults to Lifetime.
	PurgeInterval time.Duration

	purgeMu   sync.Mutex
	lastPurge time.Time
}

// LockName scopes the miss lock to one name within one repository.
func LockName(scopeKey, name string) string {
	return fmt.Sprintf("docs4u-usergroup-%d:%s:%s", len(scopeKey), scopeKey, name)
}

func (r *Resolver) lifetime() time.Duration {
	if r.Lifetime <= 0 {
		return types.DefaultCacheLifetime
	}
	return r.Lifetime
}

func (r *Resolver) lookupTimeout() time.Duration {
	if r.LookupTimeout <= 0 {
		return types.DefaultLookupTimeout
	}
	return r.LookupTimeout
}

func (r *Resolver) cached(ctx context.Context, scopeKey, name string, now time.Time) (string, bool) {
	id, ok, err := r.Cache.Lookup(ctx, scopeKey, name, now)
	if err != nil {
		log.WithError(err).WithField("name", name).Warn("identity cache lookup failed, treating as a miss")
		return "", false
	}
	return id, ok
}

// Resolve returns the ID for name, or ok=false when the repository does not know it.
// Concurrent misses for the same (scopeKey, name) are collapsed into one remote lookup
// by the lock.
func (r *Resolver) Resolve(ctx context.Context, remote UserLookup, scopeKey, name string, now time.Time) (string, bool, error) {
	if id, ok := r.cached(ctx, scopeKey, name, now); ok {
		return id, true, nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.lookupTimeout())
	defer cancel()

	unlock, err := r.Locker.Lock(lctx, LockName(scopeKey, name))
	switch {
	case err == nil:
		defer unlock()
		if id, ok := r.cached(ctx, scopeKey, name, now); ok {
			return id, true, nil
		}
	case errors.Is(err, types.ErrLockTimeout) && ctx.Err() == nil:
		// The holder is stuck; a duplicate lookup is harmless.
		log.WithField("name", name).Warn("timed out waiting for identity lock, looking up without it")
		lctx, cancel = context.WithTimeout(ctx, r.lookupTimeout())
		defer cancel()
	default:
		// A caller deadline ending the wait is a failure, not an interruption.
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", false, types.Interrupted(ctx.Err())
		}
		return "", false, err
	}

	id, ok, err := remote.FindUserOrGroup(lctx, name)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", false, types.Interrupted(err)
		}
		return "", false, err
	}
	if !ok {
		log.WithField("name", name).Debug("user or group not found in repository")
		return "", false, nil
	}
	if err := r.Cache.Store(ctx, scopeKey, name, id, now.Add(r.lifetime()).UnixMilli()); err != nil {
		log.WithError(err).WithField("name", name).Warn("failed to cache resolved identity")
	}
	return id, true, nil
}

// TranslateACL maps every token to an ID. If any token cannot be resolved the whole
// list fails with ok=false; a partial list is never returned.
func (r *Resolver) TranslateACL(ctx context.Context, remote UserLookup, t *Translator, tokens []string, scopeKey string, now time.Time) ([]string, bool, error) {
	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		name := t.Translate(token)
		id, ok, err := r.Resolve(ctx, remote, scopeKey, name, now)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			log.WithFields(log.Fields{"token": token, "name": name}).Debug("access token did not resolve")
			return nil, false, nil
		}
		ids = append(ids, id)
	}
	return ids, true, nil
}

// PurgeExpired drops expired cache entries at most once per PurgeInterval. Failures
// are logged, never returned.
func (r *Resolver) PurgeExpired(ctx context.Context, now time.Time) {
	interval := r.PurgeInterval
	if interval <= 0 {
		interval = r.lifetime()
	}
	r.purgeMu.Lock()
	if !r.lastPurge.IsZero() && now.Sub(r.lastPurge) < interval {
		r.purgeMu.Unlock()
		return
	}
	r.lastPurge = now
	r.purgeMu.Unlock()

	if err := r.Cache.PurgeExpired(ctx, now); err != nil && !types.IsInterrupted(err) {
		log.WithError(err).Warn("failed to purge expired identity cache entries")
	}
}
