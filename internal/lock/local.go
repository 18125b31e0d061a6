package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Local is an in-process Locker for single-node deployments and tests.
type Local struct {
	opts Options
	now  func() time.Time

	mu    sync.Mutex
	held  map[string]localEntry
	epoch uint64
}

type localEntry struct {
	id       uint64
	acquired time.Time
}

func NewLocal(opts Options) *Local {
	return &Local{opts: opts.withDefaults(), now: time.Now, held: make(map[string]localEntry)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	var id uint64
	err := poll(ctx, key, l.opts, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		now := l.now()
		if e, ok := l.held[key]; ok {
			if now.Sub(e.acquired) < l.opts.MaxAge {
				return false, nil
			}
			slog.Warn("Taking over stale lock", logfields.LockKey(key))
			l.opts.Metrics.IncLockAcquire("stale")
		}
		l.epoch++
		id = l.epoch
		l.held[key] = localEntry{id: id, acquired: now}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &localLease{owner: l, key: key, id: id}, nil
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type localLease struct {
	owner *Local
	key   string
	id    uint64
}

func (l *localLease) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if e, ok := l.owner.held[l.key]; ok && e.id == l.id {
		delete(l.owner.held, l.key)
	}
	return nil
}
