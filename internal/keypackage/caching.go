package keypackage

import (
	"context"
	"time"

	"github.com/jra3/groupcore/internal/cache"
)

// CachingService wraps a Service with a short-lived cache, so a batch
// add-members intent that retries against the same installations after
// an epoch conflict (spec.md §4.5) doesn't re-fetch key material that
// was already resolved moments ago.
type CachingService struct {
	inner Service
	cache *cache.Cache[FetchResult]
}

// DefaultKeyPackageTTL bounds how long a fetched key package is reused
// before the underlying service is asked again.
const DefaultKeyPackageTTL = 5 * time.Minute

// NewCachingService wraps inner with a TTL cache keyed by installation id.
func NewCachingService(inner Service) *CachingService {
	return &CachingService{
		inner: inner,
		cache: cache.New[FetchResult](DefaultKeyPackageTTL, 0),
	}
}

// FetchKeyPackages resolves installationIDs, serving any cached, still
// valid entries and batching only the misses to the wrapped service.
func (c *CachingService) FetchKeyPackages(ctx context.Context, installationIDs []string) ([]FetchResult, error) {
	out := make([]FetchResult, 0, len(installationIDs))
	var misses []string

	for _, id := range installationIDs {
		if r, ok := c.cache.Get(id); ok {
			out = append(out, r)
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.FetchKeyPackages(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, r := range fetched {
		// Malformed results are never cached: a device publishing a fresh
		// key package moments later must be picked up on the next fetch.
		if !r.Malformed {
			c.cache.Set(r.InstallationID, r)
		}
		out = append(out, r)
	}
	return out, nil
}

// Invalidate drops any cached key package for installationID, e.g. after
// it has been consumed by a successful add-members commit.
func (c *CachingService) Invalidate(installationID string) {
	c.cache.Delete(installationID)
}
