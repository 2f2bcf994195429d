package graph

import (
	"context"

	"go.uber.org/zap"

	"graphguard/backend/pkg/errors"
	"graphguard/backend/pkg/logger"
)

// CyclePolicy selects how the guard treats cycle-forming edges
type CyclePolicy string

const (
	// PolicyBounded forbids any cycle closable within MaxHops hops
	PolicyBounded CyclePolicy = "bounded"
	// PolicyTwoCycle forbids only exact back-edges of the same type
	PolicyTwoCycle CyclePolicy = "two-cycle"
	// PolicyTagOnly accepts cycle-forming edges but marks them so the
	// complexity governor can treat them specially
	PolicyTagOnly CyclePolicy = "tag-only"
)

// GuardConfig is the explicit, configurable policy of the cycle guard
type GuardConfig struct {
	Policy          CyclePolicy
	MaxHops         int
	AllowCrossGroup bool
	AllowSelfLoops  bool
}

// Verdict is the outcome of validating one proposed relationship
type Verdict struct {
	Accepted     bool
	Reason       string // reject reason code when !Accepted
	CycleForming bool   // set under tag-only policy
}

// CycleGuard validates proposed relationships against the live graph plus
// any edges staged in the same mutation batch. It must run inside the same
// commit boundary as the edge write; validating against a snapshot and
// committing against a mutated graph reintroduces the original race, so the
// coordinator holds its commit lock across validate and apply.
type CycleGuard struct {
	store  Store
	cfg    GuardConfig
	logger *zap.Logger
}

// NewCycleGuard creates a guard with the given policy
func NewCycleGuard(store Store, cfg GuardConfig) *CycleGuard {
	if cfg.MaxHops < 1 {
		cfg.MaxHops = 2
	}
	return &CycleGuard{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("cycleguard"),
	}
}

// Validate checks a proposed edge source-[relType]->target. Both endpoints
// are already resolved; pending carries the edges staged earlier in the same
// batch so intra-batch cycles are caught too.
func (g *CycleGuard) Validate(ctx context.Context, source, target *Entity, relType string, pending []Relationship) (Verdict, error) {
	if target == nil || !target.Live {
		return Verdict{Reason: ReasonTargetNotLive}, nil
	}
	if source == nil || !source.Live {
		return Verdict{Reason: ReasonTargetNotLive}, nil
	}
	if source.ID == target.ID && !g.cfg.AllowSelfLoops {
		return Verdict{Reason: ReasonSelfLoopForbidden}, nil
	}
	if source.GroupID != target.GroupID && !g.cfg.AllowCrossGroup {
		return Verdict{Reason: ReasonCrossGroupForbidden}, nil
	}

	switch g.cfg.Policy {
	case PolicyTwoCycle:
		back, err := g.hasEdge(ctx, target.ID, source.ID, relType, pending)
		if err != nil {
			return Verdict{}, err
		}
		if back {
			g.logReject(source.ID, target.ID, relType)
			return Verdict{Reason: ReasonWouldCreateCycle}, nil
		}
		return Verdict{Accepted: true}, nil

	case PolicyTagOnly:
		closes, err := g.closesCycle(ctx, source.ID, target.ID, pending)
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Accepted: true, CycleForming: closes}, nil

	default: // PolicyBounded
		closes, err := g.closesCycle(ctx, source.ID, target.ID, pending)
		if err != nil {
			return Verdict{}, err
		}
		if closes {
			g.logReject(source.ID, target.ID, relType)
			return Verdict{Reason: ReasonWouldCreateCycle}, nil
		}
		return Verdict{Accepted: true}, nil
	}
}

// closesCycle reports whether source is reachable from target within
// MaxHops-1 hops, i.e. whether adding source->target closes a cycle of
// length <= MaxHops.
func (g *CycleGuard) closesCycle(ctx context.Context, sourceID, targetID string, pending []Relationship) (bool, error) {
	if sourceID == targetID {
		return true, nil
	}

	frontier := []string{targetID}
	visited := map[string]bool{targetID: true}

	for hop := 1; hop < g.cfg.MaxHops; hop++ {
		var next []string
		for _, nodeID := range frontier {
			if err := ctx.Err(); err != nil {
				return false, errors.NewContextCancelled("cycle check", err)
			}
			neighbors, err := g.neighbors(ctx, nodeID, pending)
			if err != nil {
				return false, err
			}
			for _, rel := range neighbors {
				if rel.TargetID == sourceID {
					return true, nil
				}
				if !visited[rel.TargetID] {
					visited[rel.TargetID] = true
					next = append(next, rel.TargetID)
				}
			}
		}
		if len(next) == 0 {
			return false, nil
		}
		frontier = next
	}
	return false, nil
}

func (g *CycleGuard) neighbors(ctx context.Context, nodeID string, pending []Relationship) ([]Relationship, error) {
	rels, err := g.store.Neighbors(ctx, nodeID)
	if err != nil {
		return nil, errors.NewStoreUnavailable("neighbors", err)
	}
	for _, rel := range pending {
		if rel.SourceID == nodeID {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

func (g *CycleGuard) hasEdge(ctx context.Context, sourceID, targetID, relType string, pending []Relationship) (bool, error) {
	for _, rel := range pending {
		if rel.SourceID == sourceID && rel.TargetID == targetID && rel.Type == relType {
			return true, nil
		}
	}
	ok, err := g.store.HasEdge(ctx, sourceID, targetID, relType)
	if err != nil {
		return false, errors.NewStoreUnavailable("edge lookup", err)
	}
	return ok, nil
}

func (g *CycleGuard) logReject(sourceID, targetID, relType string) {
	g.logger.Info("edge rejected",
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.String("rel_type", relType),
		zap.String("reason", ReasonWouldCreateCycle),
	)
}
