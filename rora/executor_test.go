package rora

import (
	"testing"
	"time"
)

func TestGroupByKeySplitsDistinctFragments(t *testing.T) {
	slices := []AsdSlice{
		{Key: []byte("a"), Offset: 0, Length: 10},
		{Key: []byte("b"), Offset: 0, Length: 10},
		{Key: []byte("a"), Offset: 10, Length: 10},
	}
	grouped := groupByKey(slices)
	if len(grouped) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", len(grouped))
	}
	for _, g := range grouped {
		if string(g.Key) == "a" && len(g.slices) != 2 {
			t.Fatalf("expected key 'a' to carry 2 slices, got %d", len(g.slices))
		}
		if string(g.Key) == "b" && len(g.slices) != 1 {
			t.Fatalf("expected key 'b' to carry 1 slice, got %d", len(g.slices))
		}
	}
}

func TestExecutorRunRejectsMissingFragmentLocation(t *testing.T) {
	registry := NewRegistry(&fakeProxySource{}, 0)
	ex := NewExecutor(registry, nil, true)

	locs := []TargetedLocation{
		{
			Target: make([]byte, 4),
			Location: Location{
				NamespaceID:      1,
				FragmentLocation: FragmentLocation{Present: false},
			},
		},
	}

	err := ex.Run(locs)
	if err == nil || err.Kind != KindManifestMiss {
		t.Fatalf("expected ManifestMiss for a missing fragment location, got %v", err)
	}
}

// TestExecutorDisqualifiedOsdFailsWithoutIO: a read routing through a
// disqualified OSD must fail without any network attempt (the pool is
// real here; a dial would hang or error on the bogus endpoint, so a fast
// clean failure shows no I/O happened).
func TestExecutorDisqualifiedOsdFailsWithoutIO(t *testing.T) {
	registry := NewRegistry(&fakeProxySource{}, time.Hour)
	registry.Seed(map[OsdID]OsdEndpoint{10: {Host: "203.0.113.1", Port: "1"}})
	registry.Disqualify(10)

	pool := NewOsdPool(registry, time.Hour)
	ex := NewExecutor(registry, pool, false)

	locs := []TargetedLocation{
		{
			Target: make([]byte, 4),
			Location: Location{
				NamespaceID:      1,
				ObjectID:         []byte("obj"),
				FragmentLocation: FragmentLocation{Present: true, OsdID: 10, VersionID: 1},
				Length:           4,
			},
		},
	}

	err := ex.Run(locs)
	if err == nil || err.Kind != KindTransportClosed {
		t.Fatalf("expected a TransportClosed failure for a disqualified osd, got %v", err)
	}
	if registry.IsAvailable(10) {
		t.Fatal("osd must remain disqualified")
	}
}

func TestExecutorRunUseNullIOBypassesDispatch(t *testing.T) {
	registry := NewRegistry(&fakeProxySource{}, 0)
	registry.Seed(map[OsdID]OsdEndpoint{10: {Host: "h", Port: "1"}})
	ex := NewExecutor(registry, nil, true)

	locs := []TargetedLocation{
		{
			Target: make([]byte, 4),
			Location: Location{
				NamespaceID:      1,
				ObjectID:         []byte("obj"),
				ChunkID:          0,
				FragmentID:       0,
				FragmentLocation: FragmentLocation{Present: true, OsdID: 10, VersionID: 1},
				Offset:           0,
				Length:           4,
			},
		},
	}

	if err := ex.Run(locs); err != nil {
		t.Fatalf("expected use_null_io to bypass dispatch without touching the pool, got %v", err)
	}
}
