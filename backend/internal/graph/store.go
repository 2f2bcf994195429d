package graph

import "context"

// IDPair addresses one edge by its endpoints for read queries
type IDPair struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// Mutation is one atomic batch of writes: either every part commits or none
// of it does. Built by the coordinator, applied by the store.
type Mutation struct {
	Entities      []Entity
	EntityUpdates []Entity // merged entities whose attributes changed
	Relationships []Relationship
}

// Empty reports whether the mutation carries no writes
func (m *Mutation) Empty() bool {
	return len(m.Entities) == 0 && len(m.EntityUpdates) == 0 && len(m.Relationships) == 0
}

// Store is the narrow contract the engine requires from the underlying
// graph store. Implementations: MemStore (in-process) and Neo4jStore.
// Persistence format and query language are the store's concern.
type Store interface {
	// ResolveLive returns the live entity for a dedup key, or nil if no
	// live entity holds that key
	ResolveLive(ctx context.Context, key DedupKey) (*Entity, error)

	// GetEntity returns an entity by id, live or not; nil if absent
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// GetEntities returns the entities for the given ids, in request order,
	// skipping ids that do not exist
	GetEntities(ctx context.Context, ids []string) ([]Entity, error)

	// HasEdge reports whether a live edge source-[type]->target exists
	HasEdge(ctx context.Context, sourceID, targetID, relType string) (bool, error)

	// GetRelationships returns the edges for the given endpoint pairs
	GetRelationships(ctx context.Context, pairs []IDPair) ([]Relationship, error)

	// Neighbors returns the outgoing edges of an entity
	Neighbors(ctx context.Context, entityID string) ([]Relationship, error)

	// Apply commits a mutation batch atomically
	Apply(ctx context.Context, mut *Mutation) error
}
