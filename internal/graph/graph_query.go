package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"
)

// Sibling is another policy filed under the same category.
type Sibling struct {
	Key         string
	DisplayName string
}

// CategoryContext describes where a policy sits in the hierarchy.
type CategoryContext struct {
	// Path is the root-first chain of category names.
	Path     []string
	Siblings []Sibling
}

// Stats counts the nodes in the graph.
type Stats struct {
	Categories int64
	Policies   int64
	Templates  int64
}

// GraphQuerier reads category context from Neo4j.
type GraphQuerier struct {
	driver neo4j.DriverWithContext
}

// NewGraphQuerier creates a new graph querier.
func NewGraphQuerier(driver neo4j.DriverWithContext) *GraphQuerier {
	return &GraphQuerier{driver: driver}
}

// CategoryContext returns the category chain of the policy identified by key
// and up to limit other policies in its leaf category.
func (gq *GraphQuerier) CategoryContext(ctx context.Context, key string, limit int) (*CategoryContext, error) {
	session := gq.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result := &CategoryContext{}

	pathResult, err := session.Run(ctx, `
		MATCH (:Policy {key: $key})-[:IN_CATEGORY]->(:Category)-[:CHILD_OF*0..]->(a:Category)
		RETURN DISTINCT a.name AS name, a.depth AS depth
		ORDER BY depth
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("query category path: %w", err)
	}
	for pathResult.Next(ctx) {
		record := pathResult.Record()
		name, _ := record.Get("name")
		result.Path = append(result.Path, fmt.Sprintf("%v", name))
	}
	if err := pathResult.Err(); err != nil {
		return nil, fmt.Errorf("read category path: %w", err)
	}

	if len(result.Path) == 0 || limit <= 0 {
		return result, nil
	}

	sibResult, err := session.Run(ctx, `
		MATCH (p:Policy {key: $key})-[:IN_CATEGORY]->(c:Category)<-[:IN_CATEGORY]-(s:Policy)
		WHERE s <> p
		RETURN s.key AS key, s.display_name AS display_name
		ORDER BY display_name, key
		LIMIT $limit
	`, map[string]any{"key": key, "limit": limit})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to query sibling policies")
		return result, nil
	}
	for sibResult.Next(ctx) {
		record := sibResult.Record()
		k, _ := record.Get("key")
		name, _ := record.Get("display_name")
		result.Siblings = append(result.Siblings, Sibling{
			Key:         fmt.Sprintf("%v", k),
			DisplayName: fmt.Sprintf("%v", name),
		})
	}

	log.Debug().
		Str("key", key).
		Int("depth", len(result.Path)).
		Int("siblings", len(result.Siblings)).
		Msg("Graph query complete")

	return result, nil
}

// Stats counts categories, policies and templates.
func (gq *GraphQuerier) Stats(ctx context.Context) (*Stats, error) {
	session := gq.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		CALL { MATCH (c:Category) RETURN count(c) AS categories }
		CALL { MATCH (p:Policy) RETURN count(p) AS policies }
		CALL { MATCH (t:Template) RETURN count(t) AS templates }
		RETURN categories, policies, templates
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("query graph stats: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("read graph stats: %w", err)
	}

	stats := &Stats{}
	if v, ok := record.Get("categories"); ok {
		stats.Categories, _ = v.(int64)
	}
	if v, ok := record.Get("policies"); ok {
		stats.Policies, _ = v.(int64)
	}
	if v, ok := record.Get("templates"); ok {
		stats.Templates, _ = v.(int64)
	}
	return stats, nil
}
