package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graphguard/backend/pkg/logger"
)

// Coordinator orchestrates every write against the graph: resolve identity,
// validate edges, commit the accepted subset atomically, append change
// records. It is the only component permitted to commit.
type Coordinator struct {
	store    Store
	resolver *Resolver
	guard    *CycleGuard
	log      *ChangeLog
	logger   *zap.Logger

	// commitMu is the commit boundary: cycle validation, store apply and
	// change log append for one ingest happen without interleaving writes,
	// so the guard never validates against a graph that mutates before the
	// edge lands.
	commitMu sync.Mutex
}

// NewCoordinator wires the mutation pipeline over one shared store
func NewCoordinator(store Store, resolver *Resolver, guard *CycleGuard, log *ChangeLog) *Coordinator {
	return &Coordinator{
		store:    store,
		resolver: resolver,
		guard:    guard,
		log:      log,
		logger:   logger.Named("coordinator"),
	}
}

// ChangeLog exposes the log for read-side consumers
func (c *Coordinator) ChangeLog() *ChangeLog {
	return c.log
}

// Ingest processes one (entity + relationships) unit. The entity is
// resolved or created; each relationship is validated independently, so one
// rejected edge never aborts an otherwise-valid entity creation. The
// accepted subset commits atomically; a store failure aborts everything
// with nothing partially visible.
func (c *Coordinator) Ingest(ctx context.Context, spec EntitySpec, relSpecs []RelationshipSpec) (*IngestResult, error) {
	primaryKey := NewDedupKey(spec.GroupID, spec.Type, spec.Name)

	resolution, err := c.resolver.Resolve(ctx, spec.GroupID, spec.Name, spec.Type, spec.Attributes)
	if err != nil {
		return nil, err
	}
	// Reservation lifecycle: held from before the existence check until
	// commit-or-abort, so same-key resolvers observe our committed result.
	defer resolution.Release()

	// Resolve spec-named edge targets up front, before entering the commit
	// section; reservations must never be awaited while holding commitMu.
	// Targets sharing the primary's dedup key reuse its resolution.
	resolutions := map[string]*Resolution{primaryKey.String(): resolution}
	defer func() {
		for name, res := range resolutions {
			if name != primaryKey.String() {
				res.Release()
			}
		}
	}()
	for _, relSpec := range relSpecs {
		if relSpec.Target == nil {
			continue
		}
		key := NewDedupKey(relSpec.Target.GroupID, relSpec.Target.Type, relSpec.Target.Name)
		if _, ok := resolutions[key.String()]; ok {
			continue
		}
		res, err := c.resolver.Resolve(ctx, relSpec.Target.GroupID, relSpec.Target.Name, relSpec.Target.Type, relSpec.Target.Attributes)
		if err != nil {
			return nil, err
		}
		resolutions[key.String()] = res
	}

	primary := resolution.Entity
	mut := &Mutation{}
	var records []ChangeRecord

	if resolution.Created {
		mut.Entities = append(mut.Entities, primary)
		records = append(records, ChangeRecord{
			Kind:     OpEntityAdd,
			EntityID: primary.ID,
			GroupID:  primary.GroupID,
			Diff:     primary.Attributes,
		})
	} else if diff := MergeAttributes(&primary, spec.Attributes); diff != nil {
		primary.UpdatedAt = time.Now().UTC()
		mut.EntityUpdates = append(mut.EntityUpdates, primary)
		records = append(records, ChangeRecord{
			Kind:     OpEntityMerge,
			EntityID: primary.ID,
			GroupID:  primary.GroupID,
			Diff:     diff,
		})
	}
	for name, res := range resolutions {
		if name == primaryKey.String() || !res.Created {
			continue
		}
		mut.Entities = append(mut.Entities, res.Entity)
		records = append(records, ChangeRecord{
			Kind:     OpEntityAdd,
			EntityID: res.Entity.ID,
			GroupID:  res.Entity.GroupID,
			Diff:     res.Entity.Attributes,
		})
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	result := &IngestResult{
		Entity:        primary,
		Created:       resolution.Created,
		Relationships: []Relationship{},
		Rejected:      []RejectedRelationship{},
	}

	for _, relSpec := range relSpecs {
		source, target, err := c.resolveEndpoints(ctx, &primary, relSpec, mut, resolutions)
		if err != nil {
			return nil, err
		}

		verdict := Verdict{Reason: ReasonTargetNotLive}
		if source != nil && target != nil {
			verdict, err = c.guard.Validate(ctx, source, target, relSpec.Type, mut.Relationships)
			if err != nil {
				return nil, err
			}
		}
		if !verdict.Accepted {
			rejected := RejectedRelationship{
				SourceID: endpointID(source, relSpec.SourceID),
				TargetID: endpointID(target, relSpec.TargetID),
				Type:     relSpec.Type,
				Reason:   verdict.Reason,
			}
			result.Rejected = append(result.Rejected, rejected)
			records = append(records, ChangeRecord{
				Kind:     OpEdgeReject,
				SourceID: rejected.SourceID,
				TargetID: rejected.TargetID,
				Reason:   rejected.Reason,
			})
			continue
		}

		rel := Relationship{
			ID:           uuid.New().String(),
			SourceID:     source.ID,
			TargetID:     target.ID,
			Type:         relSpec.Type,
			Attributes:   relSpec.Attributes,
			CycleForming: verdict.CycleForming,
			CreatedAt:    time.Now().UTC(),
		}
		mut.Relationships = append(mut.Relationships, rel)
		records = append(records, ChangeRecord{
			Kind:     OpEdgeAdd,
			EdgeID:   rel.ID,
			SourceID: rel.SourceID,
			TargetID: rel.TargetID,
			GroupID:  source.GroupID,
		})
		result.Relationships = append(result.Relationships, rel)
	}

	if err := c.store.Apply(ctx, mut); err != nil {
		c.logger.Error("commit aborted", zap.Error(err))
		return nil, err
	}

	// Commit succeeded; records for this unit land contiguously. Appends
	// happen under commitMu, so sequence order equals commit order.
	result.Sequence = c.log.AppendAll(records)

	c.logger.Info("ingest committed",
		zap.String("entity_id", primary.ID),
		zap.Bool("created", resolution.Created),
		zap.Int("edges", len(result.Relationships)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Uint64("sequence", result.Sequence),
	)
	return result, nil
}

// resolveEndpoints determines the source and target entities of one edge
// spec. The source defaults to the primary entity. Targets are given either
// by id (must be live in the store or staged in this mutation) or by spec
// (already resolved before the commit section). A nil endpoint means the
// edge is rejected as target-not-live.
func (c *Coordinator) resolveEndpoints(ctx context.Context, primary *Entity, relSpec RelationshipSpec, mut *Mutation, resolutions map[string]*Resolution) (source, target *Entity, err error) {
	source = primary
	if relSpec.SourceID != "" && relSpec.SourceID != primary.ID {
		source, err = c.lookupLive(ctx, relSpec.SourceID, mut)
		if err != nil {
			return nil, nil, err
		}
	}

	switch {
	case relSpec.TargetID != "":
		target, err = c.lookupLive(ctx, relSpec.TargetID, mut)
		if err != nil {
			return nil, nil, err
		}
	case relSpec.Target != nil:
		key := NewDedupKey(relSpec.Target.GroupID, relSpec.Target.Type, relSpec.Target.Name)
		if res, ok := resolutions[key.String()]; ok {
			target = &res.Entity
		}
	}

	return source, target, nil
}

// lookupLive finds a live entity by id in the store or staged in the
// current mutation; nil means absent or not live.
func (c *Coordinator) lookupLive(ctx context.Context, id string, mut *Mutation) (*Entity, error) {
	for i := range mut.Entities {
		if mut.Entities[i].ID == id {
			return &mut.Entities[i], nil
		}
	}
	ent, err := c.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if ent == nil || !ent.Live {
		return nil, nil
	}
	return ent, nil
}

func endpointID(ent *Entity, fallback string) string {
	if ent != nil {
		return ent.ID
	}
	return fallback
}
