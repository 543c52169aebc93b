package keypackage

import (
	"context"
	"testing"
)

func TestFetchKeyPackagesBadInstallationDoesNotPoisonBatch(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.RegisterValid("good-1", nil)
	m.RegisterMalformed("bad-1", "expired key package")
	m.RegisterValid("good-2", nil)

	results, err := m.FetchKeyPackages(context.Background(), []string{"good-1", "bad-1", "good-2"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	var malformedCount, validCount int
	for _, r := range results {
		if r.Malformed {
			malformedCount++
			if r.InstallationID != "bad-1" {
				t.Errorf("unexpected malformed installation %q", r.InstallationID)
			}
			if r.KeyPackage != nil {
				t.Errorf("malformed result should not carry key package bytes")
			}
			continue
		}
		validCount++
		if len(r.KeyPackage) == 0 {
			t.Errorf("valid result %q missing key package bytes", r.InstallationID)
		}
	}
	if malformedCount != 1 || validCount != 2 {
		t.Fatalf("malformed=%d valid=%d, want 1 and 2", malformedCount, validCount)
	}
}

func TestFetchKeyPackagesUnregisteredInstallationIsMalformed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	results, err := m.FetchKeyPackages(context.Background(), []string{"never-seen"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 1 || !results[0].Malformed {
		t.Fatalf("unregistered installation should surface as malformed: %+v", results)
	}
}

func TestFetchKeyPackagesAllMalformed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.RegisterMalformed("bad-1", "no key material")
	m.RegisterMalformed("bad-2", "no key material")

	results, err := m.FetchKeyPackages(context.Background(), []string{"bad-1", "bad-2"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for _, r := range results {
		if !r.Malformed {
			t.Fatalf("expected all results malformed, got %+v", r)
		}
	}
}
