package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/config"
	"github.com/TheTechNetwork/admx-help/internal/extract"
	"github.com/TheTechNetwork/admx-help/internal/graph"
	"github.com/TheTechNetwork/admx-help/internal/search"
	"github.com/TheTechNetwork/admx-help/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func ingestCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <source-dir>",
		Short: "Extract policies and load them into PostgreSQL, Neo4j and the vector index",
		Long: `Extracts every policy under the source directory and stores the records in the
PostgreSQL catalog. When Neo4j is configured the category hierarchy is loaded
as a graph; when an embedding endpoint is configured, new and changed policies
are embedded for semantic search. Policies that disappeared are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runIngest(cfg, args[0])
		},
	}

	addExtractFlags(cmd)
	return cmd
}

func searchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find ingested policies by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			topK, _ := cmd.Flags().GetInt("top-k")
			siblings, _ := cmd.Flags().GetInt("related")
			return runSearch(cfg, strings.Join(args, " "), topK, siblings, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("top-k", 10, "Maximum number of results")
	cmd.Flags().Int("related", 5, "Related policies listed per result when Neo4j is configured")
	return cmd
}

// runIngest handles the `ingest` command.
func runIngest(cfg *config.Config, sourceDir string) error {
	ctx, cancel := setupContext()
	defer cancel()

	pgPool, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pgPool.Close()

	neo4jDriver, err := openNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	if neo4jDriver != nil {
		defer neo4jDriver.Close(ctx)
	}

	// 1. Extract.
	corpus, err := extract.Run(ctx, extract.Options{
		SourceDir: sourceDir,
		Locale:    cfg.Locale,
		Separator: cfg.Separator,
		Workers:   cfg.Workers,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
	})
	if err != nil {
		return err
	}
	if corpus.Empty() {
		// Pruning against an empty run would wipe the catalog.
		return fmt.Errorf("%w from %s, catalog left unchanged", ErrEmptyCorpus, sourceDir)
	}

	// 2. Catalog.
	catalog := store.NewCatalog(pgPool)
	if err := catalog.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := catalog.Upsert(ctx, corpus.RunID, corpus.Records); err != nil {
		return err
	}
	removed, err := catalog.Prune(ctx, corpus.RunID)
	if err != nil {
		return err
	}

	// 3. Category graph.
	if neo4jDriver != nil {
		builder := graph.NewGraphBuilder(neo4jDriver)
		if err := builder.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := builder.Load(ctx, corpus.RunID, corpus.Records); err != nil {
			return err
		}
		stats, err := graph.NewGraphQuerier(neo4jDriver).Stats(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Graph stats unavailable")
		} else {
			log.Info().
				Int64("categories", stats.Categories).
				Int64("policies", stats.Policies).
				Int64("templates", stats.Templates).
				Msg("Category graph loaded")
		}
	}

	// 4. Embeddings.
	if cfg.EmbeddingEnabled() {
		if err := indexEmbeddings(ctx, cfg, pgPool, corpus); err != nil {
			return err
		}
	} else {
		log.Info().Msg("Embedding endpoint not configured, skipping vector index")
	}

	if err := catalog.RecordRun(ctx, store.RunSummary{
		RunID:     corpus.RunID,
		SourceDir: sourceDir,
		Files:     len(corpus.Files),
		Policies:  len(corpus.Records),
		Warnings:  len(corpus.Warnings),
	}); err != nil {
		return err
	}

	log.Info().
		Str("run_id", corpus.RunID).
		Int("policies", len(corpus.Records)).
		Int("removed", len(removed)).
		Int("warnings", len(corpus.Warnings)).
		Msg("Ingestion complete")
	return nil
}

func indexEmbeddings(ctx context.Context, cfg *config.Config, pgPool *pgxpool.Pool, corpus *extract.Corpus) error {
	embedder := newEmbedder(cfg)
	vectors := search.NewVectorStore(pgPool)
	if err := vectors.EnsureSchema(ctx, embedder.Dimensions()); err != nil {
		return err
	}

	_, err := search.NewIndexer(embedder, vectors, cfg.Embedding.BatchSize).Index(ctx, corpus.Records)
	return err
}

func newEmbedder(cfg *config.Config) *search.EmbeddingClient {
	return search.NewEmbeddingClient(search.EmbedderConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
}

// runSearch handles the `search` command.
func runSearch(cfg *config.Config, query string, topK, siblings int, out io.Writer) error {
	if !cfg.EmbeddingEnabled() {
		return fmt.Errorf("%w: embedding (set EMBEDDING_API_KEY or embedding.api_key)", config.ErrNotConfigured)
	}

	ctx, cancel := setupContext()
	defer cancel()

	pgPool, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pgPool.Close()

	embedder := newEmbedder(cfg)
	vectors := search.NewVectorStore(pgPool)
	if err := vectors.EnsureSchema(ctx, embedder.Dimensions()); err != nil {
		return err
	}
	catalog := store.NewCatalog(pgPool)
	if err := catalog.EnsureSchema(ctx); err != nil {
		return err
	}

	retriever := search.NewRetriever(embedder, vectors, catalog)

	neo4jDriver, err := openNeo4j(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Searching without category context")
	} else if neo4jDriver != nil {
		defer neo4jDriver.Close(ctx)
		retriever.SetContextSource(graph.NewGraphQuerier(neo4jDriver), siblings)
	}

	results, err := retriever.Search(ctx, query, topK)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	_, err = io.WriteString(out, search.FormatResults(results))
	return err
}
