package graph

import (
	"context"
	"fmt"
	"sync"

	"graphguard/backend/pkg/errors"
)

// MemStore is an in-process Store backed by maps. It is the reference
// implementation used by tests and single-process deployments; all reads
// take the read lock and Apply takes the write lock, so readers never
// observe a half-applied mutation.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	byKey    map[DedupKey]string // live entities only
	outgoing map[string][]Relationship
	edges    map[string]bool // sourceID|type|targetID, live edges
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]*Entity),
		byKey:    make(map[DedupKey]string),
		outgoing: make(map[string][]Relationship),
		edges:    make(map[string]bool),
	}
}

func edgeKey(sourceID, relType, targetID string) string {
	return sourceID + "|" + relType + "|" + targetID
}

// ResolveLive returns the live entity holding a dedup key, or nil
func (s *MemStore) ResolveLive(ctx context.Context, key DedupKey) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	ent := s.entities[id]
	if ent == nil || !ent.Live {
		return nil, nil
	}
	cp := *ent
	return &cp, nil
}

// GetEntity returns an entity by id, or nil if absent
func (s *MemStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *ent
	return &cp, nil
}

// GetEntities returns entities for the given ids, skipping unknown ids
func (s *MemStore) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if ent, ok := s.entities[id]; ok {
			result = append(result, *ent)
		}
	}
	return result, nil
}

// HasEdge reports whether a live edge source-[type]->target exists
func (s *MemStore) HasEdge(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.edges[edgeKey(sourceID, relType, targetID)], nil
}

// GetRelationships returns edges matching the given endpoint pairs
func (s *MemStore) GetRelationships(ctx context.Context, pairs []IDPair) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Relationship
	for _, pair := range pairs {
		for _, rel := range s.outgoing[pair.SourceID] {
			if rel.TargetID == pair.TargetID {
				result = append(result, rel)
			}
		}
	}
	return result, nil
}

// Neighbors returns the outgoing edges of an entity
func (s *MemStore) Neighbors(ctx context.Context, entityID string) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rels := s.outgoing[entityID]
	out := make([]Relationship, len(rels))
	copy(out, rels)
	return out, nil
}

// Apply commits a mutation batch atomically. The batch is validated in full
// before any map is touched, so a bad batch leaves the store unchanged.
func (s *MemStore) Apply(ctx context.Context, mut *Mutation) error {
	if mut.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate first: no partial visibility on failure.
	for _, ent := range mut.Entities {
		if _, exists := s.entities[ent.ID]; exists {
			return errors.NewStoreUnavailable("apply", fmt.Errorf("entity already exists: %s", ent.ID))
		}
		key := NewDedupKey(ent.GroupID, ent.Type, ent.Name)
		if _, taken := s.byKey[key]; taken {
			return errors.NewStoreUnavailable("apply", fmt.Errorf("dedup key already live: %s", key))
		}
	}
	for _, ent := range mut.EntityUpdates {
		if _, exists := s.entities[ent.ID]; !exists {
			return errors.NewStoreUnavailable("apply", fmt.Errorf("cannot update unknown entity: %s", ent.ID))
		}
	}
	pending := make(map[string]bool, len(mut.Entities))
	for _, ent := range mut.Entities {
		pending[ent.ID] = true
	}
	for _, rel := range mut.Relationships {
		for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
			if pending[endpoint] {
				continue
			}
			ent, ok := s.entities[endpoint]
			if !ok || !ent.Live {
				return errors.NewStoreUnavailable("apply", fmt.Errorf("edge endpoint not live: %s", endpoint))
			}
		}
	}

	for i := range mut.Entities {
		ent := mut.Entities[i]
		s.entities[ent.ID] = &ent
		if ent.Live {
			s.byKey[NewDedupKey(ent.GroupID, ent.Type, ent.Name)] = ent.ID
		}
	}
	for i := range mut.EntityUpdates {
		upd := mut.EntityUpdates[i]
		prev := s.entities[upd.ID]
		if prev.Live && !upd.Live {
			// Soft delete or merge-away frees the dedup key.
			delete(s.byKey, NewDedupKey(prev.GroupID, prev.Type, prev.Name))
		}
		s.entities[upd.ID] = &upd
	}
	for _, rel := range mut.Relationships {
		s.outgoing[rel.SourceID] = append(s.outgoing[rel.SourceID], rel)
		s.edges[edgeKey(rel.SourceID, rel.Type, rel.TargetID)] = true
	}

	return nil
}
