package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graphguard/backend/pkg/errors"
	"graphguard/backend/pkg/logger"
)

// Resolution is the outcome of resolving one candidate entity. When Created
// is true, Entity is staged but not yet visible in the store; the holder of
// Release commits or abandons it. The reservation is held either way until
// Release is called, so concurrent resolvers for the same key observe the
// committed result, never a window where both may create.
type Resolution struct {
	Entity  Entity
	Created bool
	Release func()
}

// Resolver deduplicates candidate entities across concurrent writers. All
// resolution attempts for one dedup key serialize through the Locker; the
// documented failure this replaces was a check-then-act existence query with
// nothing holding the window closed.
type Resolver struct {
	store   Store
	locks   Locker
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver over a store and a reservation backend
func NewResolver(store Store, locks Locker, timeout time.Duration) *Resolver {
	return &Resolver{
		store:   store,
		locks:   locks,
		timeout: timeout,
		logger:  logger.Named("resolver"),
	}
}

// Resolve returns the live entity for (group, name, type), creating a staged
// one if none exists. The caller must invoke Release after commit-or-abort.
// A reservation that cannot be acquired within the bounded wait surfaces as
// ErrResolutionConflict, which callers treat as retryable.
func (r *Resolver) Resolve(ctx context.Context, group, name, entityType string, attributes map[string]string) (*Resolution, error) {
	key := NewDedupKey(group, entityType, name)

	release, err := r.locks.Acquire(ctx, key, r.timeout)
	if err != nil {
		if conflict, ok := err.(*errors.ErrResolutionConflict); ok {
			r.logger.Warn("reservation contention",
				zap.String("group", group),
				zap.String("key", key.String()),
				zap.Duration("waited", conflict.Timeout),
			)
		}
		return nil, err
	}

	existing, err := r.store.ResolveLive(ctx, key)
	if err != nil {
		release()
		return nil, errors.NewStoreUnavailable("resolve lookup", err)
	}

	if existing != nil {
		// Merge path: the key is already live, no new entity.
		return &Resolution{Entity: *existing, Created: false, Release: release}, nil
	}

	now := time.Now().UTC()
	ent := Entity{
		ID:         uuid.New().String(),
		Name:       name,
		Type:       entityType,
		GroupID:    group,
		Attributes: attributes,
		Live:       true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.logger.Debug("staged new entity",
		zap.String("entity_id", ent.ID),
		zap.String("group", group),
		zap.String("key", key.String()),
	)

	return &Resolution{Entity: ent, Created: true, Release: release}, nil
}

// MergeAttributes folds candidate attributes into an existing entity,
// last-write-wins per key, and returns the diff of keys that changed.
// An empty diff means the merge was a pure dedup hit.
func MergeAttributes(existing *Entity, candidate map[string]string) map[string]string {
	if len(candidate) == 0 {
		return nil
	}
	diff := make(map[string]string)
	if existing.Attributes == nil {
		existing.Attributes = make(map[string]string, len(candidate))
	}
	for k, v := range candidate {
		if prev, ok := existing.Attributes[k]; !ok || prev != v {
			existing.Attributes[k] = v
			diff[k] = v
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}
