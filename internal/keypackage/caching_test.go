package keypackage

import (
	"context"
	"testing"
)

// countingService counts how many installation ids it was actually
// asked to fetch, so tests can assert the cache suppressed repeat calls.
type countingService struct {
	inner   *Memory
	fetched []string
}

func (c *countingService) FetchKeyPackages(ctx context.Context, installationIDs []string) ([]FetchResult, error) {
	c.fetched = append(c.fetched, installationIDs...)
	return c.inner.FetchKeyPackages(ctx, installationIDs)
}

func TestCachingServiceServesRepeatFetchesFromCache(t *testing.T) {
	t.Parallel()
	mem := NewMemory()
	mem.RegisterValid("device-1", nil)
	counting := &countingService{inner: mem}
	svc := NewCachingService(counting)
	ctx := context.Background()

	if _, err := svc.FetchKeyPackages(ctx, []string{"device-1"}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := svc.FetchKeyPackages(ctx, []string{"device-1"}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if len(counting.fetched) != 1 {
		t.Fatalf("inner service fetched %v, want exactly one call for device-1", counting.fetched)
	}
}

func TestCachingServiceNeverCachesMalformedResults(t *testing.T) {
	t.Parallel()
	mem := NewMemory()
	mem.RegisterMalformed("device-bad", "expired")
	counting := &countingService{inner: mem}
	svc := NewCachingService(counting)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.FetchKeyPackages(ctx, []string{"device-bad"})
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if len(res) != 1 || !res[0].Malformed {
			t.Fatalf("fetch %d result = %+v, want malformed", i, res)
		}
	}

	if len(counting.fetched) != 3 {
		t.Fatalf("inner service fetched %d times, want 3 since malformed results never cache", len(counting.fetched))
	}
}

func TestCachingServiceInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()
	mem := NewMemory()
	mem.RegisterValid("device-1", nil)
	counting := &countingService{inner: mem}
	svc := NewCachingService(counting)
	ctx := context.Background()

	if _, err := svc.FetchKeyPackages(ctx, []string{"device-1"}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	svc.Invalidate("device-1")
	if _, err := svc.FetchKeyPackages(ctx, []string{"device-1"}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if len(counting.fetched) != 2 {
		t.Fatalf("inner service fetched %v, want two calls after Invalidate", counting.fetched)
	}
}
