package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/graph"
	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/store"
	"github.com/TheTechNetwork/admx-help/internal/textutil"

	"github.com/rs/zerolog/log"
)

// Result is one search hit with its full record.
type Result struct {
	Record parser.PolicyRecord
	Score  float64
	// Context is nil when no graph is attached or the lookup failed.
	Context *graph.CategoryContext
}

// QueryEmbedder embeds a single search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher returns the keys nearest to a query vector.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error)
}

// RecordSource loads full records for keys.
type RecordSource interface {
	Get(ctx context.Context, keys []store.Key) (map[store.Key]parser.PolicyRecord, error)
}

// ContextSource describes a policy's place in the category graph.
type ContextSource interface {
	CategoryContext(ctx context.Context, key string, limit int) (*graph.CategoryContext, error)
}

// Retriever combines vector search, the policy catalog and the category graph.
type Retriever struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	records  RecordSource
	graph    ContextSource // optional
	siblings int
}

// NewRetriever creates a new retriever.
func NewRetriever(e QueryEmbedder, v VectorSearcher, r RecordSource) *Retriever {
	return &Retriever{
		embedder: e,
		vectors:  v,
		records:  r,
		siblings: 5,
	}
}

// SetContextSource attaches the category graph used to enrich results.
func (r *Retriever) SetContextSource(cs ContextSource, siblings int) {
	r.graph = cs
	r.siblings = siblings
}

// Search returns up to topK policies most similar to query, best first.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if topK <= 0 {
		topK = 10
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.vectors.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}

	keys := make([]store.Key, len(matches))
	for i, m := range matches {
		keys[i] = m.Key
	}
	records, err := r.records.Get(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		rec, ok := records[m.Key]
		if !ok {
			log.Debug().Str("policy", m.Key.String()).Msg("Embedding without catalog record, skipping")
			continue
		}
		res := Result{Record: rec, Score: m.Score}

		if r.graph != nil {
			cc, err := r.graph.CategoryContext(ctx, m.Key.String(), r.siblings)
			if err != nil {
				log.Warn().Err(err).Str("policy", m.Key.String()).Msg("Graph query failed")
			} else {
				res.Context = cc
			}
		}
		results = append(results, res)
	}

	log.Debug().Str("query", textutil.Truncate(query, 50)).Int("results", len(results)).Msg("Search complete")
	return results, nil
}

// FormatResults renders results for the terminal.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No matching policies.\n"
	}

	var sb strings.Builder
	for i, res := range results {
		rec := res.Record
		fmt.Fprintf(&sb, "%d. [%.3f] %s (%s)\n", i+1, res.Score, rec.DisplayName, rec.ID)
		if rec.CategoryPath != "" {
			fmt.Fprintf(&sb, "   %s [%s]\n", rec.CategoryPath, rec.Scope)
		} else {
			fmt.Fprintf(&sb, "   [%s]\n", rec.Scope)
		}
		for _, b := range rec.RegistryBindings {
			fmt.Fprintf(&sb, "   %s\\%s (%s)\n", rec.RegistryKey, b.ValueName, b.ValueType)
		}
		fmt.Fprintf(&sb, "   %s\n", store.KeyOf(rec).Template)
		if d := textutil.Collapse(rec.Description); d != "" {
			fmt.Fprintf(&sb, "   %s\n", textutil.Truncate(d, 200))
		}
		if res.Context != nil && len(res.Context.Siblings) > 0 {
			names := make([]string, 0, len(res.Context.Siblings))
			for _, s := range res.Context.Siblings {
				names = append(names, s.DisplayName)
			}
			fmt.Fprintf(&sb, "   Related: %s\n", strings.Join(names, "; "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
