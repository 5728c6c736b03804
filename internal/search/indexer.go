package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/store"
	"github.com/TheTechNetwork/admx-help/internal/textutil"

	"github.com/rs/zerolog/log"
)

const maxDocumentRunes = 6000

// PolicyText is the text embedded for a policy.
func PolicyText(r parser.PolicyRecord) string {
	var sb strings.Builder
	sb.WriteString(r.DisplayName)
	if r.CategoryPath != "" {
		fmt.Fprintf(&sb, "\nCategory: %s", r.CategoryPath)
	}
	fmt.Fprintf(&sb, "\nScope: %s", r.Scope)
	if r.RegistryKey != "" {
		fmt.Fprintf(&sb, "\nRegistry: %s", r.RegistryKey)
	}
	if len(r.RegistryBindings) > 0 {
		names := make([]string, 0, len(r.RegistryBindings))
		for _, b := range r.RegistryBindings {
			names = append(names, b.ValueName)
		}
		fmt.Fprintf(&sb, "\nValues: %s", strings.Join(names, ", "))
	}
	if d := textutil.Collapse(r.Description); d != "" {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	return textutil.Truncate(sb.String(), maxDocumentRunes)
}

// BatchEmbedder turns texts into vectors, ordered like texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// VectorIndex stores policy embeddings.
type VectorIndex interface {
	Hashes(ctx context.Context) (map[store.Key]string, error)
	Store(ctx context.Context, records []EmbeddingRecord) error
	Delete(ctx context.Context, keys []store.Key) error
}

// IndexStats reports what an Index call changed.
type IndexStats struct {
	Embedded  int
	Unchanged int
	Removed   int
	Missing   int
}

// Indexer keeps the vector index in step with a corpus, embedding only
// policies whose text changed since they were last indexed.
type Indexer struct {
	embedder  BatchEmbedder
	index     VectorIndex
	batchSize int
}

// NewIndexer creates a new indexer.
func NewIndexer(embedder BatchEmbedder, index VectorIndex, batchSize int) *Indexer {
	return &Indexer{embedder: embedder, index: index, batchSize: batchSize}
}

// Index embeds new and changed records and removes vectors of records no
// longer present.
func (ix *Indexer) Index(ctx context.Context, records []parser.PolicyRecord) (IndexStats, error) {
	var stats IndexStats

	existing, err := ix.index.Hashes(ctx)
	if err != nil {
		return stats, err
	}

	present := make(map[store.Key]bool, len(records))
	var texts []string
	var pending []EmbeddingRecord
	for _, r := range records {
		key := store.KeyOf(r)
		if present[key] {
			continue
		}
		present[key] = true

		text := PolicyText(r)
		hash := textutil.Hash(text)
		if existing[key] == hash {
			stats.Unchanged++
			continue
		}
		texts = append(texts, text)
		pending = append(pending, EmbeddingRecord{Key: key, Hash: hash, Content: text})
	}

	var stale []store.Key
	for key := range existing {
		if !present[key] {
			stale = append(stale, key)
		}
	}
	if err := ix.index.Delete(ctx, stale); err != nil {
		return stats, err
	}
	stats.Removed = len(stale)

	if len(pending) == 0 {
		log.Info().Int("unchanged", stats.Unchanged).Int("removed", stats.Removed).Msg("Vector index up to date")
		return stats, nil
	}

	log.Info().Int("texts", len(texts)).Msg("Generating policy embeddings")
	vectors, err := ix.embedder.EmbedBatch(ctx, texts, ix.batchSize)
	if err != nil {
		return stats, fmt.Errorf("generate policy embeddings: %w", err)
	}

	toStore := make([]EmbeddingRecord, 0, len(pending))
	for i, rec := range pending {
		if i >= len(vectors) || vectors[i] == nil {
			log.Warn().Str("policy", rec.Key.String()).Msg("Missing embedding for policy")
			stats.Missing++
			continue
		}
		rec.Vector = vectors[i]
		toStore = append(toStore, rec)
	}

	if err := ix.index.Store(ctx, toStore); err != nil {
		return stats, err
	}
	stats.Embedded = len(toStore)

	log.Info().
		Int("embedded", stats.Embedded).
		Int("unchanged", stats.Unchanged).
		Int("removed", stats.Removed).
		Msg("Vector index updated")
	return stats, nil
}
