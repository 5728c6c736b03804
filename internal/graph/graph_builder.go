package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/store"
	"github.com/TheTechNetwork/admx-help/internal/worker"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"
)

// PathKeySeparator joins category segments into the unique key of a
// Category node, independent of the display separator.
const PathKeySeparator = " > "

const writeBatchSize = 500

// CategoryNode is one (:Category) in the merged hierarchy of all templates.
type CategoryNode struct {
	Path       string
	Name       string
	ParentPath string
	Depth      int
}

// CategoryNodes derives the distinct category chain nodes referenced by
// records, in first-seen order.
func CategoryNodes(records []parser.PolicyRecord) []CategoryNode {
	seen := make(map[string]bool)
	var nodes []CategoryNode
	for _, r := range records {
		for i, name := range r.Category {
			path := strings.Join(r.Category[:i+1], PathKeySeparator)
			if seen[path] {
				continue
			}
			seen[path] = true
			var parent string
			if i > 0 {
				parent = strings.Join(r.Category[:i], PathKeySeparator)
			}
			nodes = append(nodes, CategoryNode{Path: path, Name: name, ParentPath: parent, Depth: i})
		}
	}
	return nodes
}

// PolicyKey is the unique key of a (:Policy) node, matching the catalog key.
func PolicyKey(r parser.PolicyRecord) string {
	return store.KeyOf(r).String()
}

// GraphBuilder writes the category hierarchy of a corpus into Neo4j.
type GraphBuilder struct {
	driver neo4j.DriverWithContext
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder(driver neo4j.DriverWithContext) *GraphBuilder {
	return &GraphBuilder{driver: driver}
}

// EnsureSchema creates constraints on the Neo4j database.
func (gb *GraphBuilder) EnsureSchema(ctx context.Context) error {
	session := gb.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	constraints := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (c:Category) REQUIRE c.path IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (p:Policy) REQUIRE p.key IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (t:Template) REQUIRE t.path IS UNIQUE",
	}
	for _, c := range constraints {
		if _, err := session.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("create constraint: %w", err)
		}
	}

	log.Info().Msg("Graph schema ensured")
	return nil
}

// Load merges categories, templates and policies for runID, then removes
// nodes that an earlier run wrote but this one did not.
func (gb *GraphBuilder) Load(ctx context.Context, runID string, records []parser.PolicyRecord) error {
	session := gb.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	categories := CategoryNodes(records)
	for _, batch := range worker.Batch(categoryRows(categories), writeBatchSize) {
		_, err := session.Run(ctx, `
			UNWIND $rows AS row
			MERGE (c:Category {path: row.path})
			SET c.name = row.name, c.depth = row.depth, c.run_id = $run_id
		`, map[string]any{"rows": batch, "run_id": runID})
		if err != nil {
			return fmt.Errorf("merge categories: %w", err)
		}

		_, err = session.Run(ctx, `
			UNWIND $rows AS row
			WITH row WHERE row.parent <> ''
			MATCH (c:Category {path: row.path})
			MATCH (p:Category {path: row.parent})
			MERGE (c)-[:CHILD_OF]->(p)
		`, map[string]any{"rows": batch})
		if err != nil {
			return fmt.Errorf("link categories: %w", err)
		}
	}
	log.Info().Int("categories", len(categories)).Msg("Merged category nodes")

	for _, batch := range worker.Batch(policyRows(records), writeBatchSize) {
		_, err := session.Run(ctx, `
			UNWIND $rows AS row
			MERGE (t:Template {path: row.template})
			SET t.name = row.source_file, t.run_id = $run_id
			MERGE (p:Policy {key: row.key})
			SET p.id = row.id,
			    p.display_name = row.display_name,
			    p.scope = row.scope,
			    p.registry_key = row.registry_key,
			    p.run_id = $run_id
			MERGE (p)-[:DEFINED_IN]->(t)
			WITH p, row
			OPTIONAL MATCH (p)-[old:IN_CATEGORY]->()
			DELETE old
			WITH DISTINCT p, row
			WHERE row.category <> ''
			MATCH (c:Category {path: row.category})
			MERGE (p)-[:IN_CATEGORY]->(c)
		`, map[string]any{"rows": batch, "run_id": runID})
		if err != nil {
			return fmt.Errorf("merge policies: %w", err)
		}
	}
	log.Info().Int("policies", len(records)).Msg("Merged policy nodes")

	for _, label := range []string{"Policy", "Template", "Category"} {
		_, err := session.Run(ctx,
			fmt.Sprintf("MATCH (n:%s) WHERE n.run_id <> $run_id DETACH DELETE n", label),
			map[string]any{"run_id": runID})
		if err != nil {
			log.Warn().Err(err).Str("label", label).Msg("Failed to prune stale nodes")
		}
	}
	return nil
}

// Rows are []any so the driver sends them as a plain list parameter.
func categoryRows(nodes []CategoryNode) []any {
	rows := make([]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]any{
			"path":   n.Path,
			"name":   n.Name,
			"parent": n.ParentPath,
			"depth":  n.Depth,
		})
	}
	return rows
}

func policyRows(records []parser.PolicyRecord) []any {
	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, map[string]any{
			"key":          PolicyKey(r),
			"id":           r.ID,
			"display_name": r.DisplayName,
			"scope":        string(r.Scope),
			"registry_key": r.RegistryKey,
			"source_file":  r.SourceFile,
			"template":     store.KeyOf(r).Template,
			"category":     strings.Join(r.Category, PathKeySeparator),
		})
	}
	return rows
}
