package redis

import (
	"context"
	"time"

	"docs4usync/internal/lock"
	"docs4usync/internal/types"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	lockKeyPrefix = "_d4u_lock_"

	DefaultLockLease = time.Minute
)

// releaseLock deletes KEYS[1] only while it still holds this holder's token.
var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker implements ports.Locker across processes sharing one Redis. A lock is a key
// set with NX and a lease, so a crashed holder cannot block others past the lease.
type Locker struct {
	cli      *redis.Client
	lease    time.Duration
	retryMin time.Duration
	retryMax time.Duration
}

func NewLocker(cli *redis.Client, lease time.Duration) *Locker {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	return &Locker{
		cli:      cli,
		lease:    lease,
		retryMin: 5 * time.Millisecond,
		retryMax: 200 * time.Millisecond,
	}
}

func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()
	delay := l.retryMin
	for {
		ok, err := l.cli.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, lock.WaitError(ctx, name)
			}
			return nil, types.Err(types.ErrDataStoreAccess, err, "lock %q", name)
		}
		if ok {
			return func() {
				// The caller's ctx may already be done; release regardless.
				if err := releaseLock.Run(context.Background(), l.cli, []string{key}, token).Err(); err != nil {
					log.WithError(err).WithField("lock", name).Warn("failed to release redis lock")
				}
			}, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lock.WaitError(ctx, name)
		case <-timer.C:
		}
		delay *= 2
		if delay > l.retryMax {
			delay = l.retryMax
		}
	}
}
