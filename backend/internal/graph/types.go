package graph

import (
	"regexp"
	"strings"
	"time"
)

// ============================================================================
// Core Graph Types
// ============================================================================

// Entity represents a node in the graph
type Entity struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	GroupID    string            `json:"group_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Live       bool              `json:"live"`
	MergedInto string            `json:"merged_into,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// EntitySpec is a caller-supplied candidate entity, pre-resolution
type EntitySpec struct {
	Name       string            `json:"name" binding:"required"`
	Type       string            `json:"type" binding:"required"`
	GroupID    string            `json:"group_id" binding:"required"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Relationship represents a directed edge between two live entities
type Relationship struct {
	ID           string            `json:"id"`
	SourceID     string            `json:"source_id"`
	TargetID     string            `json:"target_id"`
	Type         string            `json:"type"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CycleForming bool              `json:"cycle_forming,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RelationshipSpec is a caller-supplied candidate edge. The source defaults
// to the entity being ingested; TargetID may reference an existing entity or
// Target may name one to resolve in the same group.
type RelationshipSpec struct {
	SourceID   string            `json:"source_id,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Target     *EntitySpec       `json:"target,omitempty"`
	Type       string            `json:"type" binding:"required"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DedupKey identifies "the same real-world entity" within a group
type DedupKey struct {
	GroupID string `json:"group_id"`
	Type    string `json:"type"`
	Name    string `json:"name"` // normalized
}

// String renders the key in a stable form usable as a lock name
func (k DedupKey) String() string {
	return k.GroupID + "|" + k.Type + "|" + k.Name
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeName canonicalizes an entity name for dedup comparison:
// case-fold, trim, collapse internal whitespace
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return whitespaceRE.ReplaceAllString(name, " ")
}

// NewDedupKey builds the canonical dedup key for a candidate entity
func NewDedupKey(groupID, entityType, name string) DedupKey {
	return DedupKey{
		GroupID: groupID,
		Type:    entityType,
		Name:    NormalizeName(name),
	}
}

// ============================================================================
// Change Log Types
// ============================================================================

// OpKind is the kind of committed mutation a change record describes
type OpKind string

const (
	OpEntityAdd   OpKind = "entity-add"
	OpEntityMerge OpKind = "entity-merge"
	OpEdgeAdd     OpKind = "edge-add"
	OpEdgeReject  OpKind = "edge-reject"
)

// ChangeRecord is one entry of the append-only change log
type ChangeRecord struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      OpKind            `json:"kind"`
	EntityID  string            `json:"entity_id,omitempty"`
	EdgeID    string            `json:"edge_id,omitempty"`
	SourceID  string            `json:"source_id,omitempty"`
	TargetID  string            `json:"target_id,omitempty"`
	GroupID   string            `json:"group_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Diff      map[string]string `json:"diff,omitempty"`
}

// ============================================================================
// Ingest Types
// ============================================================================

// Reject reason codes carried on edge rejections
const (
	ReasonWouldCreateCycle    = "would-create-cycle"
	ReasonTargetNotLive       = "target-not-live"
	ReasonCrossGroupForbidden = "cross-group-forbidden"
	ReasonSelfLoopForbidden   = "self-loop-forbidden"
)

// RejectedRelationship reports an edge the cycle guard refused
type RejectedRelationship struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
}

// IngestResult is the outcome of one ingest call: the resolved entity, the
// committed edges, and the rejected edges with reasons
type IngestResult struct {
	Entity        Entity                 `json:"entity"`
	Created       bool                   `json:"created"`
	Relationships []Relationship         `json:"relationships"`
	Rejected      []RejectedRelationship `json:"rejected"`
	Sequence      uint64                 `json:"sequence"`
}
