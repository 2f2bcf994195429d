package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"graphguard/backend/pkg/logger"
)

// Neo4jStore implements Store against a Neo4j database. Each Apply runs as
// a single managed write transaction, so the batch commits or rolls back as
// one unit.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a store over an existing driver
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{
		driver: driver,
		logger: logger.Named("neo4j"),
	}
}

// Close closes the underlying driver connection
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// ResolveLive returns the live entity holding a dedup key, or nil
func (s *Neo4jStore) ResolveLive(ctx context.Context, key DedupKey) (*Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {group_id: $groupID, type: $type, normalized_name: $name, live: true})
		RETURN e
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"groupID": key.GroupID,
		"type":    key.Type,
		"name":    key.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dedup key: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record(), "e")
}

// GetEntity returns an entity by id, or nil if absent
func (s *Neo4jStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (e:Entity {id: $id}) RETURN e LIMIT 1`, map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch record: %w", err)
		}
		return nil, nil
	}

	return entityFromRecord(result.Record(), "e")
}

// GetEntities returns entities for the given ids, skipping unknown ids
func (s *Neo4jStore) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		UNWIND $ids AS id
		MATCH (e:Entity {id: id})
		RETURN e
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}

	var entities []Entity
	for result.Next(ctx) {
		ent, err := entityFromRecord(result.Record(), "e")
		if err != nil {
			return nil, err
		}
		entities = append(entities, *ent)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	return entities, nil
}

// HasEdge reports whether a live edge source-[type]->target exists
func (s *Neo4jStore) HasEdge(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Entity {id: $sourceID})-[r:RELATES {type: $relType}]->(b:Entity {id: $targetID})
		RETURN count(r) > 0 AS present
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sourceID": sourceID,
		"targetID": targetID,
		"relType":  relType,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check edge: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch record: %w", err)
	}
	present, _ := record.Get("present")
	b, _ := present.(bool)
	return b, nil
}

// GetRelationships returns edges matching the given endpoint pairs
func (s *Neo4jStore) GetRelationships(ctx context.Context, pairs []IDPair) ([]Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := make([]map[string]interface{}, 0, len(pairs))
	for _, pair := range pairs {
		params = append(params, map[string]interface{}{
			"source": pair.SourceID,
			"target": pair.TargetID,
		})
	}

	query := `
		UNWIND $pairs AS pair
		MATCH (a:Entity {id: pair.source})-[r:RELATES]->(b:Entity {id: pair.target})
		RETURN r, a.id AS source_id, b.id AS target_id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"pairs": params})
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}

	var rels []Relationship
	for result.Next(ctx) {
		rel, err := relationshipFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		rels = append(rels, *rel)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	return rels, nil
}

// Neighbors returns the outgoing edges of an entity
func (s *Neo4jStore) Neighbors(ctx context.Context, entityID string) ([]Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Entity {id: $id})-[r:RELATES]->(b:Entity)
		RETURN r, a.id AS source_id, b.id AS target_id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to get neighbors: %w", err)
	}

	var rels []Relationship
	for result.Next(ctx) {
		rel, err := relationshipFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		rels = append(rels, *rel)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	return rels, nil
}

// Apply commits a mutation batch in one write transaction
func (s *Neo4jStore) Apply(ctx context.Context, mut *Mutation) error {
	if mut.Empty() {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, ent := range mut.Entities {
			if _, err := tx.Run(ctx, `
				CREATE (e:Entity {
					id: $id,
					name: $name,
					normalized_name: $normalizedName,
					type: $type,
					group_id: $groupID,
					attributes: $attributes,
					live: $live,
					created_at: datetime($createdAt),
					updated_at: datetime($updatedAt)
				})
			`, entityParams(ent)); err != nil {
				return nil, fmt.Errorf("failed to create entity: %w", err)
			}
		}
		for _, ent := range mut.EntityUpdates {
			if _, err := tx.Run(ctx, `
				MATCH (e:Entity {id: $id})
				SET e.attributes = $attributes,
				    e.live = $live,
				    e.merged_into = $mergedInto,
				    e.updated_at = datetime($updatedAt)
			`, map[string]interface{}{
				"id":         ent.ID,
				"attributes": flattenAttributes(ent.Attributes),
				"live":       ent.Live,
				"mergedInto": ent.MergedInto,
				"updatedAt":  ent.UpdatedAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return nil, fmt.Errorf("failed to update entity: %w", err)
			}
		}
		for _, rel := range mut.Relationships {
			if _, err := tx.Run(ctx, `
				MATCH (a:Entity {id: $sourceID})
				MATCH (b:Entity {id: $targetID})
				CREATE (a)-[r:RELATES {
					id: $id,
					type: $relType,
					attributes: $attributes,
					cycle_forming: $cycleForming,
					created_at: datetime($createdAt)
				}]->(b)
			`, map[string]interface{}{
				"id":           rel.ID,
				"sourceID":     rel.SourceID,
				"targetID":     rel.TargetID,
				"relType":      rel.Type,
				"attributes":   flattenAttributes(rel.Attributes),
				"cycleForming": rel.CycleForming,
				"createdAt":    rel.CreatedAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return nil, fmt.Errorf("failed to create relationship: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		s.logger.Error("apply failed", zap.Error(err))
		return err
	}
	return nil
}

// Helper functions

func entityParams(ent Entity) map[string]interface{} {
	return map[string]interface{}{
		"id":             ent.ID,
		"name":           ent.Name,
		"normalizedName": NormalizeName(ent.Name),
		"type":           ent.Type,
		"groupID":        ent.GroupID,
		"attributes":     flattenAttributes(ent.Attributes),
		"live":           ent.Live,
		"createdAt":      ent.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":      ent.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// flattenAttributes renders an attribute map as alternating key/value list,
// since Neo4j properties cannot hold nested maps
func flattenAttributes(attrs map[string]string) []string {
	if len(attrs) == 0 {
		return []string{}
	}
	flat := make([]string, 0, len(attrs)*2)
	for k, v := range attrs {
		flat = append(flat, k, v)
	}
	return flat
}

func unflattenAttributes(val interface{}) map[string]string {
	list, ok := val.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(list)/2)
	for i := 0; i+1 < len(list); i += 2 {
		k, kok := list[i].(string)
		v, vok := list[i+1].(string)
		if kok && vok {
			attrs[k] = v
		}
	}
	return attrs
}

func entityFromRecord(record *neo4j.Record, key string) (*Entity, error) {
	val, ok := record.Get(key)
	if !ok {
		return nil, fmt.Errorf("record missing node %s", key)
	}
	node, ok := val.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected value for node %s", key)
	}
	props := node.Props

	ent := &Entity{
		ID:         getStringProp(props, "id"),
		Name:       getStringProp(props, "name"),
		Type:       getStringProp(props, "type"),
		GroupID:    getStringProp(props, "group_id"),
		Attributes: unflattenAttributes(props["attributes"]),
		MergedInto: getStringProp(props, "merged_into"),
	}
	if live, ok := props["live"].(bool); ok {
		ent.Live = live
	}
	ent.CreatedAt = getTimeProp(props, "created_at")
	ent.UpdatedAt = getTimeProp(props, "updated_at")
	return ent, nil
}

func relationshipFromRecord(record *neo4j.Record) (*Relationship, error) {
	val, ok := record.Get("r")
	if !ok {
		return nil, fmt.Errorf("record missing relationship")
	}
	edge, ok := val.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected value for relationship")
	}
	props := edge.Props

	rel := &Relationship{
		ID:         getStringProp(props, "id"),
		Type:       getStringProp(props, "type"),
		Attributes: unflattenAttributes(props["attributes"]),
	}
	if cf, ok := props["cycle_forming"].(bool); ok {
		rel.CycleForming = cf
	}
	rel.CreatedAt = getTimeProp(props, "created_at")

	if source, ok := record.Get("source_id"); ok {
		rel.SourceID, _ = source.(string)
	}
	if target, ok := record.Get("target_id"); ok {
		rel.TargetID, _ = target.(string)
	}
	return rel, nil
}

func getStringProp(props map[string]interface{}, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func getTimeProp(props map[string]interface{}, key string) time.Time {
	// Neo4j datetime values come back as time.Time
	if t, ok := props[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}
