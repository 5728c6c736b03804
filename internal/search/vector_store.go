package search

import (
	"context"
	"fmt"

	"github.com/TheTechNetwork/admx-help/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// EmbeddingRecord is a policy's search text with its embedding.
type EmbeddingRecord struct {
	Key     store.Key
	Hash    string
	Content string
	Vector  []float32
}

// Match is one similarity search hit.
type Match struct {
	Key   store.Key
	Score float64
}

// VectorStore handles pgvector-backed embedding storage and similarity search.
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore creates a new vector store.
func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

// EnsureSchema creates the vector extension and the embeddings table for
// vectors of the given size.
func (vs *VectorStore) EnsureSchema(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS policy_embeddings (
			template    TEXT NOT NULL,
			id          TEXT NOT NULL,
			occurrence  INTEGER NOT NULL DEFAULT 0,
			hash        TEXT NOT NULL,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			PRIMARY KEY (template, id, occurrence)
		)`, dimensions),
	}
	for _, s := range stmts {
		if _, err := vs.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("create vector schema: %w", err)
		}
	}
	log.Info().Int("dimensions", dimensions).Msg("Vector schema ensured")
	return nil
}

// Hashes returns the content hash each stored embedding was computed from.
func (vs *VectorStore) Hashes(ctx context.Context) (map[store.Key]string, error) {
	rows, err := vs.pool.Query(ctx, `SELECT template, id, occurrence, hash FROM policy_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("query embedding hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[store.Key]string)
	for rows.Next() {
		var k store.Key
		var h string
		if err := rows.Scan(&k.Template, &k.ID, &k.Occurrence, &h); err != nil {
			return nil, fmt.Errorf("scan embedding hash: %w", err)
		}
		out[k] = h
	}
	return out, rows.Err()
}

// Store upserts embedding records.
func (vs *VectorStore) Store(ctx context.Context, records []EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO policy_embeddings (template, id, occurrence, hash, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6::vector)
			ON CONFLICT (template, id, occurrence) DO UPDATE SET
				hash = EXCLUDED.hash,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`, r.Key.Template, r.Key.ID, r.Key.Occurrence, r.Hash, r.Content, pgvector.NewVector(r.Vector))
	}
	if err := vs.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}

	log.Info().Int("count", len(records)).Msg("Stored embeddings")
	return nil
}

// Delete removes embeddings for keys.
func (vs *VectorStore) Delete(ctx context.Context, keys []store.Key) error {
	if len(keys) == 0 {
		return nil
	}
	templates, ids, occurrences := store.KeyColumns(keys)
	_, err := vs.pool.Exec(ctx, `
		DELETE FROM policy_embeddings
		WHERE (template, id, occurrence) IN (SELECT * FROM unnest($1::text[], $2::text[], $3::int[]))
	`, templates, ids, occurrences)
	if err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

// Search finds the top-K policies closest to the query vector by cosine distance.
func (vs *VectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error) {
	rows, err := vs.pool.Query(ctx, `
		SELECT template, id, occurrence, 1 - (embedding <=> $1::vector) AS similarity
		FROM policy_embeddings
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.Key.Template, &m.Key.ID, &m.Key.Occurrence, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect vector matches: %w", err)
	}
	return matches, nil
}
