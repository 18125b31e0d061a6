package serve

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
)

type countingDomains struct {
	domains map[string]string
	calls   atomic.Int32
	err     error
}

func (c *countingDomains) ProjectSlugForDomain(_ context.Context, host string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	slug, ok := c.domains[host]
	if !ok {
		return "", errors.NotFoundError("domain not found").Build()
	}
	return slug, nil
}

func TestHostsSubdomain(t *testing.T) {
	domains := &countingDomains{}
	h := NewHosts("docs.example.com", domains, nil, 0, nil)

	slug, ok, err := h.ProjectSlug(t.Context(), "PIP.docs.example.com:443")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pip", slug)

	_, ok, err = h.ProjectSlug(t.Context(), "docs.example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, domains.calls.Load())
}

func TestHostsCustomDomainCachedLocally(t *testing.T) {
	domains := &countingDomains{domains: map[string]string{"pip.pypa.io": "pip"}}
	h := NewHosts("docs.example.com", domains, nil, time.Minute, nil)

	for range 3 {
		slug, ok, err := h.ProjectSlug(t.Context(), "pip.pypa.io")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "pip", slug)
	}
	assert.Equal(t, int32(1), domains.calls.Load())

	h.Forget(t.Context(), "pip.pypa.io")
	_, _, err := h.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)
	assert.Equal(t, int32(2), domains.calls.Load())
}

func TestHostsLocalEntryExpires(t *testing.T) {
	domains := &countingDomains{domains: map[string]string{"pip.pypa.io": "pip"}}
	h := NewHosts("", domains, nil, time.Minute, nil)
	now := time.Now()
	h.now = func() time.Time { return now }

	_, _, err := h.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, _, err = h.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)
	assert.Equal(t, int32(2), domains.calls.Load())
}

func TestHostsSharedRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	domains := &countingDomains{domains: map[string]string{"pip.pypa.io": "pip"}}
	first := NewHosts("docs.example.com", domains, rdb, time.Minute, nil)
	_, _, err := first.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)

	cached, err := mr.Get(hostKeyPrefix + "pip.pypa.io")
	require.NoError(t, err)
	assert.Equal(t, "pip", cached)

	second := NewHosts("docs.example.com", domains, rdb, time.Minute, nil)
	slug, ok, err := second.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pip", slug)
	assert.Equal(t, int32(1), domains.calls.Load())
}

func TestHostsRedisFailureFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	domains := &countingDomains{domains: map[string]string{"pip.pypa.io": "pip"}}
	h := NewHosts("docs.example.com", domains, rdb, time.Minute, nil)
	slug, ok, err := h.ProjectSlug(t.Context(), "pip.pypa.io")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pip", slug)
}

func TestHostsUnknownDomain(t *testing.T) {
	h := NewHosts("docs.example.com", &countingDomains{}, nil, 0, nil)
	_, ok, err := h.ProjectSlug(t.Context(), "unknown.org")
	require.NoError(t, err)
	assert.False(t, ok)

	failing := NewHosts("docs.example.com", &countingDomains{err: errors.StoreError("db down").Build()}, nil, 0, nil)
	_, _, err = failing.ProjectSlug(t.Context(), "unknown.org")
	assert.Error(t, err)
}
