package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// countingSource is a simple Source implementation used for cache tests.
type countingSource struct {
	detailCalls int
	powerCalls  int
	hints       core.OSHints
	power       string
	err         error
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Scopes(context.Context) ([]core.Scope, error) { return nil, nil }

func (s *countingSource) List(context.Context, core.Scope) ([]core.Resource, error) { return nil, nil }

func (s *countingSource) Details(context.Context, core.Scope, core.Resource) (core.OSHints, error) {
	s.detailCalls++
	return s.hints, s.err
}

func (s *countingSource) PowerState(context.Context, core.Scope, core.Resource) (string, error) {
	s.powerCalls++
	return s.power, s.err
}

func strPtr(s string) *string { return &s }

func TestCacheGetOrFetchHints(t *testing.T) {
	cache := NewCache(5*time.Minute, false)
	calls := 0
	fetch := func() (core.OSHints, error) {
		calls++
		return core.OSHints{OSType: strPtr("Linux")}, nil
	}

	for i := 0; i < 2; i++ {
		h, err := cache.GetOrFetchHints("k", fetch)
		if err != nil {
			t.Fatalf("GetOrFetchHints returned error: %v", err)
		}
		if h.OSType == nil || *h.OSType != "Linux" {
			t.Fatalf("unexpected hints: %+v", h)
		}
	}
	if calls != 1 {
		t.Fatalf("expected fetch to be called once, got %d", calls)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(1*time.Nanosecond, false)
	calls := 0
	fetch := func() (string, error) {
		calls++
		return "running", nil
	}

	if _, err := cache.GetOrFetchPower("k", fetch); err != nil {
		t.Fatalf("GetOrFetchPower returned error: %v", err)
	}

	// Sleep long enough for TTL to expire.
	time.Sleep(2 * time.Nanosecond)

	if _, err := cache.GetOrFetchPower("k", fetch); err != nil {
		t.Fatalf("GetOrFetchPower returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected expired entry to be refetched, got %d calls", calls)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	cache := NewCache(5*time.Minute, false)
	boom := errors.New("boom")

	if _, err := cache.GetOrFetchPower("k", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected failed fetch not to be cached, got %d entries", cache.Len())
	}
}

func TestWithCache_CachesDetailsAndPower(t *testing.T) {
	src := &countingSource{
		hints: core.OSHints{OSType: strPtr("Windows")},
		power: "VM running",
	}
	cached := WithCache(src, NewCache(5*time.Minute, false))
	res := AzureVM{ID: strPtr("/subscriptions/s/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1")}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.Details(ctx, core.Scope{}, res); err != nil {
			t.Fatalf("Details returned error: %v", err)
		}
		p, err := cached.PowerState(ctx, core.Scope{}, res)
		if err != nil {
			t.Fatalf("PowerState returned error: %v", err)
		}
		if p != "VM running" {
			t.Fatalf("PowerState = %q, want %q", p, "VM running")
		}
	}

	if src.detailCalls != 1 || src.powerCalls != 1 {
		t.Fatalf("expected one call per lookup kind, got details=%d power=%d", src.detailCalls, src.powerCalls)
	}
}

func TestWithCache_NoIDBypassesCache(t *testing.T) {
	src := &countingSource{power: "running"}
	cached := WithCache(src, NewCache(5*time.Minute, false))

	for i := 0; i < 2; i++ {
		if _, err := cached.PowerState(context.Background(), core.Scope{}, AzureVM{}); err != nil {
			t.Fatalf("PowerState returned error: %v", err)
		}
	}
	if src.powerCalls != 2 {
		t.Fatalf("expected uncached calls for resources without id, got %d", src.powerCalls)
	}
}

func TestWithCache_NilCacheReturnsSource(t *testing.T) {
	src := &countingSource{}
	if got := WithCache(src, nil); got != Source(src) {
		t.Fatalf("expected WithCache(src, nil) to return src")
	}
}

func TestLookupSource_UnknownSourceReturnsNil(t *testing.T) {
	if f := LookupSource("non-existent-source"); f != nil {
		t.Fatalf("expected nil factory for unknown name")
	}
}

func TestRegisteredSources(t *testing.T) {
	got := RegisteredSources()
	want := map[string]bool{SourceAzure: false, SourceAzureCLI: false, SourceEC2: false, SourceGCE: false}
	for _, name := range got {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("RegisteredSources() missing %q: %v", name, got)
		}
	}
}
