package lock

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// releaseScript deletes the key only while it still holds our token, so a
// lease that expired and was taken over is never released by its old owner.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis locks with SET NX PX. The expiry doubles as the stale lock age.
type Redis struct {
	rdb  *goredis.Client
	opts Options
}

func NewRedis(rdb *goredis.Client, opts Options) *Redis {
	return &Redis{rdb: rdb, opts: opts.withDefaults()}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	err := poll(ctx, key, r.opts, func() (bool, error) {
		ok, err := r.rdb.SetNX(ctx, key, token, r.opts.MaxAge).Result()
		if err != nil {
			return false, errors.WrapError(err, errors.CategoryNetwork, "redis lock acquire failed").
				WithContext("lock_key", key).
				Retryable().
				Build()
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Lock acquired", logfields.LockKey(key))
	return &redisLease{rdb: r.rdb, key: key, token: token}, nil
}

type redisLease struct {
	rdb   *goredis.Client
	key   string
	token string
}

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "redis lock release failed").
			WithContext("lock_key", l.key).
			Build()
	}
	if n == 0 {
		slog.Warn("Lock expired before release", logfields.LockKey(l.key))
	}
	return nil
}
