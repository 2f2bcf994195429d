package graph

import (
	"context"
	"testing"
	"time"
)

func TestMemStore_ApplyAllOrNothing(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ents := seedEntities(t, store, "g1", "A")

	// A batch with one valid entity and one edge to a dead endpoint must
	// leave the store untouched.
	now := time.Now().UTC()
	bad := &Mutation{
		Entities: []Entity{{
			ID: "ent-new", Name: "new", Type: "Entity", GroupID: "g1",
			Live: true, CreatedAt: now, UpdatedAt: now,
		}},
		Relationships: []Relationship{{
			ID: "rel-bad", SourceID: ents["A"].ID, TargetID: "missing", Type: "RELATES_TO",
		}},
	}
	if err := store.Apply(ctx, bad); err == nil {
		t.Fatal("expected apply to fail on dead endpoint")
	}

	ent, err := store.GetEntity(ctx, "ent-new")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if ent != nil {
		t.Error("failed batch left a partial entity visible")
	}
	rels, err := store.Neighbors(ctx, ents["A"].ID)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(rels) != 0 {
		t.Error("failed batch left a partial edge visible")
	}
}

func TestMemStore_DedupKeyLifecycle(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ents := seedEntities(t, store, "g1", "A")
	a := ents["A"]

	key := NewDedupKey("g1", "Entity", "A")
	live, err := store.ResolveLive(ctx, key)
	if err != nil {
		t.Fatalf("ResolveLive failed: %v", err)
	}
	if live == nil || live.ID != a.ID {
		t.Fatal("live entity not resolvable by dedup key")
	}

	// A second live entity under the same key is refused.
	now := time.Now().UTC()
	err = store.Apply(ctx, &Mutation{Entities: []Entity{{
		ID: "ent-dup", Name: "a", Type: "Entity", GroupID: "g1",
		Live: true, CreatedAt: now, UpdatedAt: now,
	}}})
	if err == nil {
		t.Fatal("duplicate live dedup key must be refused")
	}

	// Merging the entity away frees the key.
	a.Live = false
	a.MergedInto = "ent-other"
	if err := store.Apply(ctx, &Mutation{EntityUpdates: []Entity{a}}); err != nil {
		t.Fatalf("merge update failed: %v", err)
	}
	live, err = store.ResolveLive(ctx, key)
	if err != nil {
		t.Fatalf("ResolveLive failed: %v", err)
	}
	if live != nil {
		t.Error("merged-away entity still resolves as live")
	}
}

func TestMemStore_Reads(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	ents := seedEntities(t, store, "g1", "A", "B")
	seedEdge(t, store, ents["A"], ents["B"], "RELATES_TO")

	got, err := store.GetEntities(ctx, []string{ents["A"].ID, "unknown", ents["B"].ID})
	if err != nil {
		t.Fatalf("GetEntities failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 entities with unknown id skipped, got %d", len(got))
	}

	ok, err := store.HasEdge(ctx, ents["A"].ID, ents["B"].ID, "RELATES_TO")
	if err != nil || !ok {
		t.Errorf("expected edge A->B present, got ok=%v err=%v", ok, err)
	}
	ok, err = store.HasEdge(ctx, ents["B"].ID, ents["A"].ID, "RELATES_TO")
	if err != nil || ok {
		t.Errorf("expected no edge B->A, got ok=%v err=%v", ok, err)
	}

	rels, err := store.GetRelationships(ctx, []IDPair{{SourceID: ents["A"].ID, TargetID: ents["B"].ID}})
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 1 || rels[0].Type != "RELATES_TO" {
		t.Errorf("unexpected relationships: %+v", rels)
	}
}
