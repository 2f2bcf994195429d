package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"graphguard/backend/pkg/errors"
)

func testGovernor(store Store) *Governor {
	return NewGovernor(store,
		Budget{MaxDepth: 10, MaxPaths: 10000, MaxNodes: 100000, MaxDuration: 5 * time.Second},
		Budget{MaxDepth: 25, MaxPaths: 100000, MaxNodes: 1000000, MaxDuration: 30 * time.Second},
	)
}

func TestGovernor_SimpleChain(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A", "B", "C")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")
	seedEdge(t, store, ents["B"], ents["C"], "RELATES_TO")

	result, err := testGovernor(store).Traverse(context.Background(), ents["A"].ID, "", Budget{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if result.Truncated {
		t.Errorf("complete traversal flagged truncated by %s", result.TruncatedBy)
	}
	if len(result.Paths) != 2 {
		t.Fatalf("expected 2 paths (A-B, A-B-C), got %d", len(result.Paths))
	}
}

func TestGovernor_CycleTerminates(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A", "B")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")
	seedEdge(t, store, ents["B"], ents["A"], "RELATES_TO")

	result, err := testGovernor(store).Traverse(context.Background(), ents["A"].ID, "", Budget{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	// A path never revisits a node, so the cycle yields exactly one path
	// and the traversal terminates without burning the budget.
	if result.Truncated {
		t.Errorf("cycle traversal flagged truncated by %s", result.TruncatedBy)
	}
	if len(result.Paths) != 1 {
		t.Fatalf("expected 1 path through the 2-cycle, got %d", len(result.Paths))
	}
}

func TestGovernor_PathLimitTruncates(t *testing.T) {
	store := NewMemStore()
	// A fan-out of 20 targets from one hub.
	hub := seedEntities(t, store, "g1", "hub")["hub"]
	for i := 0; i < 20; i++ {
		leaf := seedEntities(t, store, "g1", fmt.Sprintf("leaf-%d", i))[fmt.Sprintf("leaf-%d", i)]
		seedEdge(t, store, hub, leaf, "RELATES_TO")
	}

	result, err := testGovernor(store).Traverse(context.Background(), hub.ID, "", Budget{MaxPaths: 5})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if !result.Truncated {
		t.Fatal("path limit exceeded but truncation flag not set")
	}
	if result.TruncatedBy != "paths" {
		t.Errorf("expected truncation by paths, got %s", result.TruncatedBy)
	}
	if len(result.Paths) > 5 {
		t.Errorf("path budget 5 but %d paths returned", len(result.Paths))
	}
}

func TestGovernor_DepthLimitTruncates(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A", "B", "C", "D")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")
	seedEdge(t, store, ents["B"], ents["C"], "RELATES_TO")
	seedEdge(t, store, ents["C"], ents["D"], "RELATES_TO")

	result, err := testGovernor(store).Traverse(context.Background(), ents["A"].ID, "", Budget{MaxDepth: 2})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if !result.Truncated || result.TruncatedBy != "depth" {
		t.Errorf("expected truncation by depth, got truncated=%v by=%s", result.Truncated, result.TruncatedBy)
	}
	for _, path := range result.Paths {
		if len(path)-1 > 2 {
			t.Errorf("path exceeds depth 2: %v", path)
		}
	}
}

func TestGovernor_CeilingClampsCallerBudget(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A")

	gov := testGovernor(store)
	clamped := gov.Clamp(Budget{MaxDepth: 9999, MaxPaths: 99999999, MaxNodes: 1, MaxDuration: time.Hour})
	if clamped.MaxDepth != 25 {
		t.Errorf("depth not clamped to ceiling: %d", clamped.MaxDepth)
	}
	if clamped.MaxPaths != 100000 {
		t.Errorf("paths not clamped to ceiling: %d", clamped.MaxPaths)
	}
	if clamped.MaxDuration != 30*time.Second {
		t.Errorf("duration not clamped to ceiling: %v", clamped.MaxDuration)
	}

	// Zero fields take defaults.
	defaulted := gov.Clamp(Budget{})
	if defaulted.MaxDepth != 10 || defaulted.MaxPaths != 10000 {
		t.Errorf("defaults not applied: %+v", defaulted)
	}

	_ = ents
}

func TestGovernor_CancellationTruncates(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A", "B")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := testGovernor(store).Traverse(ctx, ents["A"].ID, "", Budget{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if !result.Truncated {
		t.Fatal("cancelled traversal must report truncation")
	}
}

func TestGovernor_UnknownStart(t *testing.T) {
	store := NewMemStore()
	_, err := testGovernor(store).Traverse(context.Background(), "no-such-entity", "", Budget{})
	if err == nil {
		t.Fatal("expected error for unknown start entity")
	}
	if _, ok := err.(*errors.ErrEntityNotFound); !ok {
		t.Fatalf("expected ErrEntityNotFound, got %T", err)
	}
}

func TestGovernor_TypeFilter(t *testing.T) {
	store := NewMemStore()
	ents := seedEntities(t, store, "g1", "A", "B", "C")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")
	seedEdge(t, store, ents["A"], ents["C"], "DERIVED_FROM")

	result, err := testGovernor(store).Traverse(context.Background(), ents["A"].ID, "RELATES_TO", Budget{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(result.Paths) != 1 {
		t.Fatalf("expected 1 RELATES_TO path, got %d", len(result.Paths))
	}
	if result.Paths[0][1] != ents["B"].ID {
		t.Errorf("expected path to B, got %v", result.Paths[0])
	}
}
