package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"docs4usync/internal/types"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	identityKeyPrefix       = "_d4u_ident_"
	identityKeyNameTemplate = identityKeyPrefix + "%d_%s_%s"
)

// purgeIfExpired deletes KEYS[1] only when its expires_at is at or before ARGV[1], so an
// entry refreshed by a concurrent Store is kept.
var purgeIfExpired = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and tonumber(exp) <= tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// IdentityCache implements ports.IdentityCache as one hash per entry. Redis expires the
// key at expires_at; lookups compare against the caller's clock as well.
type IdentityCache struct {
	cli *redis.Client
}

func NewIdentityCache(cli *redis.Client) *IdentityCache {
	return &IdentityCache{cli: cli}
}

func (s *IdentityCache) Initialize(ctx context.Context) error {
	if err := s.cli.Ping(ctx).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *IdentityCache) Destroy(ctx context.Context) error {
	iter := s.cli.Scan(ctx, 0, identityKeyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.cli.Del(ctx, keys...).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *IdentityCache) Lookup(ctx context.Context, scopeKey, name string, now time.Time) (string, bool, error) {
	vals, err := s.cli.HMGet(ctx, getIdentityKey(scopeKey, name), "id", "expires_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, types.Err(types.ErrDataStoreAccess, err, "")
	}
	id, ok := vals[0].(string)
	if !ok {
		return "", false, nil
	}
	expStr, _ := vals[1].(string)
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", false, fmt.Errorf("%w: invalid expires_at %q", types.ErrDataStoreAccess, expStr)
	}
	entry := types.IdentityEntry{ScopeKey: scopeKey, Name: name, TargetID: id, ExpiresAt: exp}
	if !entry.Live(now) {
		return "", false, nil
	}
	return id, true, nil
}

func (s *IdentityCache) Store(ctx context.Context, scopeKey, name, targetID string, expiresAt int64) error {
	key := getIdentityKey(scopeKey, name)
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"id":         targetID,
			"expires_at": expiresAt,
		})
		pipe.PExpireAt(ctx, key, time.UnixMilli(expiresAt))
		return nil
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *IdentityCache) PurgeExpired(ctx context.Context, now time.Time) error {
	iter := s.cli.Scan(ctx, 0, identityKeyPrefix+"*", 200).Iterator()
	purged := 0
	for iter.Next(ctx) {
		n, err := purgeIfExpired.Run(ctx, s.cli, []string{iter.Val()}, now.UnixMilli()).Int()
		if err != nil {
			return types.Err(types.ErrDataStoreAccess, err, "")
		}
		purged += n
	}
	if err := iter.Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if purged > 0 {
		log.WithField("purged", purged).Debug("purged expired identity cache entries")
	}
	return nil
}

// getIdentityKey length-prefixes the scope so that no (scope, name) pair can collide.
func getIdentityKey(scopeKey, name string) string {
	return fmt.Sprintf(identityKeyNameTemplate, len(scopeKey), scopeKey, name)
}
