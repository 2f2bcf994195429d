package graph

import (
	"context"
	"time"

	"go.uber.org/zap"

	"graphguard/backend/pkg/errors"
	"graphguard/backend/pkg/logger"
)

// Budget caps the cost of one traversal: hop depth, paths enumerated, nodes
// visited, wall-clock time. Zero fields take the governor's defaults; every
// field is clamped to the governor's hard ceiling regardless of what the
// caller asked for.
type Budget struct {
	MaxDepth    int           `json:"max_depth"`
	MaxPaths    int           `json:"max_paths"`
	MaxNodes    int           `json:"max_nodes"`
	MaxDuration time.Duration `json:"max_duration"`
}

// budgetState is the per-query spend tracker; created at query start,
// destroyed with the query.
type budgetState struct {
	budget   Budget
	deadline time.Time
	paths    int
	nodes    int
}

func (b *budgetState) chargeNode() bool {
	b.nodes++
	return b.nodes <= b.budget.MaxNodes
}

func (b *budgetState) chargePath() bool {
	b.paths++
	return b.paths <= b.budget.MaxPaths
}

func (b *budgetState) expired() bool {
	return time.Now().After(b.deadline)
}

// TraversalResult is a possibly-partial set of paths. Truncated is always
// set when any budget dimension ran out; a short result is never silent.
type TraversalResult struct {
	Paths        [][]string `json:"paths"`
	NodesVisited int        `json:"nodes_visited"`
	Truncated    bool       `json:"truncated"`
	TruncatedBy  string     `json:"truncated_by,omitempty"` // depth|paths|nodes|time|cancelled
}

// Governor bounds traversal cost so a cycle in the graph can never force a
// single query into unbounded work. Enforcement is cooperative: the budget
// is checked before every frontier expansion, and context cancellation is
// treated as immediate budget exhaustion.
type Governor struct {
	store    Store
	defaults Budget
	ceiling  Budget
	logger   *zap.Logger
}

// NewGovernor creates a governor with default and ceiling budgets
func NewGovernor(store Store, defaults, ceiling Budget) *Governor {
	return &Governor{
		store:    store,
		defaults: defaults,
		ceiling:  ceiling,
		logger:   logger.Named("governor"),
	}
}

// Clamp fills zero fields from the defaults and caps every field at the
// hard ceiling
func (g *Governor) Clamp(b Budget) Budget {
	if b.MaxDepth <= 0 {
		b.MaxDepth = g.defaults.MaxDepth
	}
	if b.MaxPaths <= 0 {
		b.MaxPaths = g.defaults.MaxPaths
	}
	if b.MaxNodes <= 0 {
		b.MaxNodes = g.defaults.MaxNodes
	}
	if b.MaxDuration <= 0 {
		b.MaxDuration = g.defaults.MaxDuration
	}
	if b.MaxDepth > g.ceiling.MaxDepth {
		b.MaxDepth = g.ceiling.MaxDepth
	}
	if b.MaxPaths > g.ceiling.MaxPaths {
		b.MaxPaths = g.ceiling.MaxPaths
	}
	if b.MaxNodes > g.ceiling.MaxNodes {
		b.MaxNodes = g.ceiling.MaxNodes
	}
	if b.MaxDuration > g.ceiling.MaxDuration {
		b.MaxDuration = g.ceiling.MaxDuration
	}
	return b
}

// Traverse enumerates paths outward from startID, optionally filtered to
// one relationship type, under the given budget. It returns a partial
// result with Truncated set rather than erroring when the budget runs out,
// and it never blocks past the budget's wall-clock cap.
func (g *Governor) Traverse(ctx context.Context, startID, relType string, requested Budget) (*TraversalResult, error) {
	budget := g.Clamp(requested)
	state := &budgetState{
		budget:   budget,
		deadline: time.Now().Add(budget.MaxDuration),
	}
	result := &TraversalResult{}

	type frontierPath struct {
		nodes []string
		seen  map[string]bool
	}

	start, err := g.store.GetEntity(ctx, startID)
	if err != nil {
		return nil, errors.NewStoreUnavailable("traverse start", err)
	}
	if start == nil || !start.Live {
		return nil, errors.NewEntityNotFound(startID)
	}

	frontier := []frontierPath{{
		nodes: []string{startID},
		seen:  map[string]bool{startID: true},
	}}
	state.chargeNode()

	for depth := 0; depth < budget.MaxDepth && len(frontier) > 0; depth++ {
		var next []frontierPath
		for _, fp := range frontier {
			if ctx.Err() != nil {
				g.truncate(result, state, "cancelled")
				return result, nil
			}
			if state.expired() {
				g.truncate(result, state, "time")
				return result, nil
			}

			tip := fp.nodes[len(fp.nodes)-1]
			rels, err := g.store.Neighbors(ctx, tip)
			if err != nil {
				return nil, errors.NewStoreUnavailable("traverse expand", err)
			}
			for _, rel := range rels {
				if relType != "" && rel.Type != relType {
					continue
				}
				if fp.seen[rel.TargetID] {
					// Revisiting within one path would walk the cycle forever.
					continue
				}
				if !state.chargeNode() {
					g.truncate(result, state, "nodes")
					return result, nil
				}

				extended := make([]string, len(fp.nodes), len(fp.nodes)+1)
				copy(extended, fp.nodes)
				extended = append(extended, rel.TargetID)

				if !state.chargePath() {
					g.truncate(result, state, "paths")
					return result, nil
				}
				result.Paths = append(result.Paths, extended)

				seen := make(map[string]bool, len(fp.seen)+1)
				for k := range fp.seen {
					seen[k] = true
				}
				seen[rel.TargetID] = true
				next = append(next, frontierPath{nodes: extended, seen: seen})
			}
		}
		frontier = next
	}

	// Depth cap reached with paths still expandable means results were cut
	// short; a frontier whose tips are all dead ends is a complete result.
	for _, fp := range frontier {
		if state.expired() || ctx.Err() != nil {
			g.truncate(result, state, "time")
			return result, nil
		}
		tip := fp.nodes[len(fp.nodes)-1]
		rels, err := g.store.Neighbors(ctx, tip)
		if err != nil {
			return nil, errors.NewStoreUnavailable("traverse expand", err)
		}
		for _, rel := range rels {
			if relType != "" && rel.Type != relType {
				continue
			}
			if !fp.seen[rel.TargetID] {
				g.truncate(result, state, "depth")
				return result, nil
			}
		}
	}

	result.NodesVisited = state.nodes
	return result, nil
}

func (g *Governor) truncate(result *TraversalResult, state *budgetState, by string) {
	result.Truncated = true
	result.TruncatedBy = by
	result.NodesVisited = state.nodes
	g.logger.Debug("traversal truncated",
		zap.String("by", by),
		zap.Int("paths", state.paths),
		zap.Int("nodes", state.nodes),
	)
}
