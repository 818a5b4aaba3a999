package rora

import (
	"errors"
	"testing"
	"time"
)

type fakeProxySource struct {
	osdInfo    map[OsdID]OsdEndpoint
	osdInfoErr error
	levels     []StoreID
	levelsErr  error
	levelCalls int
}

func (f *fakeProxySource) OsdInfo() (map[OsdID]OsdEndpoint, error) {
	return f.osdInfo, f.osdInfoErr
}

func (f *fakeProxySource) AlbaLevels() ([]StoreID, error) {
	f.levelCalls++
	return f.levels, f.levelsErr
}

func TestRegistryIsUnknown(t *testing.T) {
	r := NewRegistry(&fakeProxySource{}, time.Second)
	if !r.IsUnknown(1) {
		t.Fatal("expected an unseeded osd to be unknown")
	}
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "h", Port: "1"}})
	if r.IsUnknown(1) {
		t.Fatal("expected a seeded osd to no longer be unknown")
	}
}

func TestRegistryIsAvailableAfterSeed(t *testing.T) {
	r := NewRegistry(&fakeProxySource{}, time.Second)
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "h", Port: "1"}})
	if !r.IsAvailable(1) {
		t.Fatal("expected a freshly seeded osd to be available")
	}
	if r.IsAvailable(2) {
		t.Fatal("expected an unseeded osd to be unavailable")
	}
}

func TestRegistryDisqualifyAndRetry(t *testing.T) {
	r := NewRegistry(&fakeProxySource{}, 10*time.Millisecond)
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "h", Port: "1"}})

	r.Disqualify(1)
	if r.IsAvailable(1) {
		t.Fatal("expected a disqualified osd to be unavailable immediately")
	}

	time.Sleep(20 * time.Millisecond)
	if !r.IsAvailable(1) {
		t.Fatal("expected a disqualified osd to become available again after its penalty window")
	}
}

func TestRegistrySeedNeverClobbers(t *testing.T) {
	r := NewRegistry(&fakeProxySource{}, time.Second)
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "first", Port: "1"}})
	r.Disqualify(1)
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "second", Port: "2"}})

	if r.IsAvailable(1) {
		t.Fatal("a later Seed call must not clear an existing disqualification")
	}
	ep, ok := r.Endpoint(1)
	if !ok || ep.Host != "first" {
		t.Fatalf("a later Seed call must not overwrite an existing record, got %+v", ep)
	}
}

func TestRegistryUpdatePreservesDisqualification(t *testing.T) {
	proxy := &fakeProxySource{osdInfo: map[OsdID]OsdEndpoint{1: {Host: "h", Port: "1"}}}
	r := NewRegistry(proxy, time.Hour)
	r.Seed(map[OsdID]OsdEndpoint{1: {Host: "h", Port: "1"}})
	r.Disqualify(1)

	if err := r.Update(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsAvailable(1) {
		t.Fatal("Update must preserve an existing disqualification rather than resetting it")
	}
}

func TestRegistryUpdateAddsNewOsds(t *testing.T) {
	proxy := &fakeProxySource{osdInfo: map[OsdID]OsdEndpoint{5: {Host: "new", Port: "9"}}}
	r := NewRegistry(proxy, time.Hour)

	if err := r.Update(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsUnknown(5) {
		t.Fatal("expected Update to register a previously unknown osd")
	}
	if !r.IsAvailable(5) {
		t.Fatal("expected a freshly added osd to be available")
	}
}

func TestRegistryUpdatePropagatesError(t *testing.T) {
	proxy := &fakeProxySource{osdInfoErr: errors.New("boom")}
	r := NewRegistry(proxy, time.Hour)
	if err := r.Update(); err == nil {
		t.Fatal("expected Update to propagate the proxy error")
	}
}

func TestRegistryGetAlbaLevelsCachesFirstResponse(t *testing.T) {
	proxy := &fakeProxySource{levels: []StoreID{"S0", "S1"}}
	r := NewRegistry(proxy, time.Hour)

	got, err := r.GetAlbaLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(got))
	}

	proxy.levels = []StoreID{"S0", "S1", "S2"}
	got2, err := r.GetAlbaLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got2) != 2 {
		t.Fatalf("expected the cached first response (2 levels) to stick, got %d", len(got2))
	}
	if proxy.levelCalls != 1 {
		t.Fatalf("expected AlbaLevels to be called exactly once, got %d", proxy.levelCalls)
	}
}
