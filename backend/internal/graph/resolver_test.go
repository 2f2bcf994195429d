package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"graphguard/backend/pkg/errors"
)

func newTestResolver(store Store, timeout time.Duration) *Resolver {
	return NewResolver(store, NewLocalLocker(), timeout)
}

// commitResolution commits a staged entity and releases the reservation,
// the way the coordinator does for a full ingest.
func commitResolution(t *testing.T, store Store, res *Resolution) {
	t.Helper()
	defer res.Release()
	if !res.Created {
		return
	}
	err := store.Apply(context.Background(), &Mutation{Entities: []Entity{res.Entity}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}

func TestResolver_DedupRace(t *testing.T) {
	store := NewMemStore()
	resolver := newTestResolver(store, 5*time.Second)
	ctx := context.Background()

	const n = 50
	ids := make([]string, n)
	created := make([]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := resolver.Resolve(ctx, "g1", "Payment Gateway", "Entity", nil)
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			ids[i] = res.Entity.ID
			created[i] = res.Created
			commitResolution(t, store, res)
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < n; i++ {
		if created[i] {
			createdCount++
		}
		if ids[i] != ids[0] {
			t.Errorf("caller %d got entity %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
	if createdCount != 1 {
		t.Errorf("expected exactly 1 creation, got %d", createdCount)
	}
}

func TestResolver_DistinctKeysDoNotContend(t *testing.T) {
	store := NewMemStore()
	resolver := newTestResolver(store, 100*time.Millisecond)
	ctx := context.Background()

	// Hold the reservation for one key while resolving another; the second
	// key must not wait on the first.
	res1, err := resolver.Resolve(ctx, "g1", "alpha", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve alpha failed: %v", err)
	}
	defer commitResolution(t, store, res1)

	res2, err := resolver.Resolve(ctx, "g1", "beta", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve beta blocked on unrelated key: %v", err)
	}
	commitResolution(t, store, res2)
}

func TestResolver_ConflictTimeout(t *testing.T) {
	store := NewMemStore()
	resolver := newTestResolver(store, 50*time.Millisecond)
	ctx := context.Background()

	res, err := resolver.Resolve(ctx, "g1", "contested", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Second attempt while the first reservation is still held.
	_, err = resolver.Resolve(ctx, "g1", "contested", "Entity", nil)
	if err == nil {
		t.Fatal("expected ResolutionConflict while reservation held")
	}
	if _, ok := err.(*errors.ErrResolutionConflict); !ok {
		t.Fatalf("expected ErrResolutionConflict, got %T", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("ResolutionConflict must be retryable")
	}

	commitResolution(t, store, res)

	// After release the key resolves to the committed entity.
	res2, err := resolver.Resolve(ctx, "g1", "contested", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve after release failed: %v", err)
	}
	defer res2.Release()
	if res2.Created {
		t.Error("expected merge path after first caller committed")
	}
	if res2.Entity.ID != res.Entity.ID {
		t.Errorf("expected entity %s, got %s", res.Entity.ID, res2.Entity.ID)
	}
}

func TestResolver_NameNormalization(t *testing.T) {
	store := NewMemStore()
	resolver := newTestResolver(store, time.Second)
	ctx := context.Background()

	res, err := resolver.Resolve(ctx, "g1", "Ada  Lovelace", "Person", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	commitResolution(t, store, res)

	// Same name modulo case, padding and internal whitespace.
	res2, err := resolver.Resolve(ctx, "g1", "  ada lovelace ", "Person", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer res2.Release()

	if res2.Created {
		t.Error("normalized duplicate should not create a new entity")
	}
	if res2.Entity.ID != res.Entity.ID {
		t.Errorf("expected entity %s, got %s", res.Entity.ID, res2.Entity.ID)
	}
}

func TestResolver_DifferentGroupsAreDistinct(t *testing.T) {
	store := NewMemStore()
	resolver := newTestResolver(store, time.Second)
	ctx := context.Background()

	res1, err := resolver.Resolve(ctx, "g1", "shared name", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	commitResolution(t, store, res1)

	res2, err := resolver.Resolve(ctx, "g2", "shared name", "Entity", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	commitResolution(t, store, res2)

	if !res2.Created {
		t.Error("same name in a different group must create a new entity")
	}
	if res1.Entity.ID == res2.Entity.ID {
		t.Error("entities in different groups must have distinct ids")
	}
}

func TestMergeAttributes(t *testing.T) {
	ent := &Entity{Attributes: map[string]string{"a": "1", "b": "2"}}

	diff := MergeAttributes(ent, map[string]string{"b": "2", "c": "3"})
	if len(diff) != 1 || diff["c"] != "3" {
		t.Errorf("expected diff {c:3}, got %v", diff)
	}
	if ent.Attributes["c"] != "3" {
		t.Error("merge did not apply new attribute")
	}

	// Identical attributes produce no diff.
	if diff := MergeAttributes(ent, map[string]string{"a": "1"}); diff != nil {
		t.Errorf("expected nil diff for unchanged attributes, got %v", diff)
	}
}
