// Package lock provides the per-project advisory lock that serialises
// checkouts and builds of one project across workers and processes.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
)

// Locker hands out exclusive leases on a key.
type Locker interface {
	// Acquire blocks until the lease is held. When Options.Wait elapses
	// first it returns a retryable lock error, see IsTimeout.
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Options tune acquisition.
type Options struct {
	// Wait bounds how long Acquire polls before giving up.
	Wait time.Duration
	// MaxAge expires a lease whose holder died without releasing it.
	MaxAge  time.Duration
	Poll    time.Duration
	Metrics metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 30 * time.Minute
	}
	if o.Poll <= 0 {
		o.Poll = 250 * time.Millisecond
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoopRecorder{}
	}
	return o
}

// OptionsFromConfig maps the lock section.
func OptionsFromConfig(c config.LockConfig) Options {
	return Options{Wait: c.Wait, MaxAge: c.MaxAge, Poll: c.Poll}
}

// Key is the lock key of a project.
func Key(projectSlug string) string { return "rtdbuild:lock:" + projectSlug }

// New returns the configured backend. The redis backend needs rdb.
func New(c config.LockConfig, rdb *goredis.Client, rec metrics.Recorder) (Locker, error) {
	opts := OptionsFromConfig(c)
	opts.Metrics = rec
	switch c.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.ConfigError("redis lock backend requires a redis client").Build()
		}
		return NewRedis(rdb, opts), nil
	case "", "local":
		return NewLocal(opts), nil
	}
	return nil, errors.ConfigError(fmt.Sprintf("unknown lock backend %q", c.Backend)).
		WithContext("backend", c.Backend).
		Build()
}

// IsTimeout reports a lock that could not be acquired in time.
func IsTimeout(err error) bool { return errors.HasCategory(err, errors.CategoryLock) }

func timeoutError(key string, wait time.Duration) error {
	return errors.LockTimeout(fmt.Sprintf("lock %s still held after %s", key, wait)).
		WithContext("lock_key", key).
		Build()
}

// poll calls try until it succeeds, fails, the wait budget is spent or ctx
// ends.
func poll(ctx context.Context, key string, opts Options, try func() (bool, error)) error {
	deadline := time.Now().Add(opts.Wait)
	logged := false
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			opts.Metrics.IncLockAcquire("acquired")
			return nil
		}
		if !logged {
			slog.Info("Waiting for lock", logfields.LockKey(key))
			logged = true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			opts.Metrics.IncLockAcquire("timeout")
			return timeoutError(key, opts.Wait)
		}
		timer := time.NewTimer(min(opts.Poll, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
