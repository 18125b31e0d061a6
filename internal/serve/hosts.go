package serve

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

const (
	hostKeyPrefix  = "rtdbuild:host:"
	defaultHostTTL = 10 * time.Minute
)

// DomainStore resolves custom domains.
type DomainStore interface {
	ProjectSlugForDomain(ctx context.Context, host string) (string, error)
}

type hostEntry struct {
	slug    string
	expires time.Time
}

// Hosts maps request hostnames to project slugs. Subdomains of the public
// domain name their project directly. Custom domains are looked up in the
// store behind an in-process cache and an optional Redis cache; cache
// failures fall through to the store.
type Hosts struct {
	publicDomain string
	store        DomainStore
	rdb          *goredis.Client
	ttl          time.Duration
	recorder     metrics.Recorder
	group        singleflight.Group

	mu    sync.RWMutex
	local map[string]hostEntry
	now   func() time.Time
}

// NewHosts builds a host resolver. rdb may be nil.
func NewHosts(publicDomain string, store DomainStore, rdb *goredis.Client, ttl time.Duration, rec metrics.Recorder) *Hosts {
	if ttl <= 0 {
		ttl = defaultHostTTL
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Hosts{
		publicDomain: models.NormalizeDomain(publicDomain),
		store:        store,
		rdb:          rdb,
		ttl:          ttl,
		recorder:     rec,
		local:        make(map[string]hostEntry),
		now:          time.Now,
	}
}

// ProjectSlug returns the project served on host. ok is false when no
// project owns the host.
func (h *Hosts) ProjectSlug(ctx context.Context, host string) (string, bool, error) {
	host = models.NormalizeDomain(host)
	if host == "" || host == h.publicDomain {
		return "", false, nil
	}
	if h.publicDomain != "" {
		if sub, ok := strings.CutSuffix(host, "."+h.publicDomain); ok && !strings.Contains(sub, ".") {
			return sub, true, nil
		}
	}

	if slug, ok := h.fromLocal(host); ok {
		return slug, true, nil
	}
	if slug, ok := h.fromRedis(ctx, host); ok {
		h.remember(host, slug)
		return slug, true, nil
	}

	v, err, _ := h.group.Do(host, func() (any, error) {
		return h.store.ProjectSlugForDomain(ctx, host)
	})
	if errors.HasCategory(err, errors.CategoryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	slug := v.(string)
	h.remember(host, slug)
	h.toRedis(ctx, host, slug)
	return slug, true, nil
}

// Forget drops host from both caches.
func (h *Hosts) Forget(ctx context.Context, host string) {
	host = models.NormalizeDomain(host)
	h.mu.Lock()
	delete(h.local, host)
	h.mu.Unlock()
	if h.rdb != nil {
		if err := h.rdb.Del(ctx, hostKeyPrefix+host).Err(); err != nil {
			slog.Debug("Host cache delete failed", logfields.Host(host), logfields.Error(err))
		}
	}
}

func (h *Hosts) fromLocal(host string) (string, bool) {
	h.mu.RLock()
	e, ok := h.local[host]
	h.mu.RUnlock()
	hit := ok && h.now().Before(e.expires)
	h.recorder.IncCacheLookup("host_local", hit)
	return e.slug, hit
}

func (h *Hosts) remember(host, slug string) {
	h.mu.Lock()
	h.local[host] = hostEntry{slug: slug, expires: h.now().Add(h.ttl)}
	h.mu.Unlock()
}

func (h *Hosts) fromRedis(ctx context.Context, host string) (string, bool) {
	if h.rdb == nil {
		return "", false
	}
	slug, err := h.rdb.Get(ctx, hostKeyPrefix+host).Result()
	switch {
	case err == nil:
		h.recorder.IncCacheLookup("host_redis", true)
		return slug, true
	case stderrors.Is(err, goredis.Nil):
		h.recorder.IncCacheLookup("host_redis", false)
	default:
		slog.Debug("Host cache unavailable", logfields.Host(host), logfields.Error(err))
	}
	return "", false
}

func (h *Hosts) toRedis(ctx context.Context, host, slug string) {
	if h.rdb == nil {
		return
	}
	if err := h.rdb.Set(ctx, hostKeyPrefix+host, slug, h.ttl).Err(); err != nil {
		slog.Debug("Host cache write failed", logfields.Host(host), logfields.Error(err))
	}
}
