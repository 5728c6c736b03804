package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/textutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS admx_policies (
    template          TEXT NOT NULL,
    id                TEXT NOT NULL,
    occurrence        INTEGER NOT NULL DEFAULT 0,
    source_file       TEXT NOT NULL,
    ordinal           INTEGER NOT NULL,
    display_name      TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    scope             TEXT NOT NULL,
    category_path     TEXT NOT NULL DEFAULT '',
    category          TEXT[] NOT NULL DEFAULT '{}',
    registry_key      TEXT NOT NULL DEFAULT '',
    registry_bindings JSONB NOT NULL DEFAULT '[]'::jsonb,
    hash              TEXT NOT NULL,
    run_id            TEXT NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (template, id, occurrence)
);
CREATE INDEX IF NOT EXISTS idx_admx_policies_run_id ON admx_policies(run_id);
CREATE TABLE IF NOT EXISTS admx_runs (
    run_id      TEXT PRIMARY KEY,
    source_dir  TEXT NOT NULL,
    files       INTEGER NOT NULL,
    policies    INTEGER NOT NULL,
    warnings    INTEGER NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Key identifies a policy across the corpus. Template is the source-relative
// path, since base names repeat across folders; Occurrence tells apart
// policies that reuse a name within one template.
type Key struct {
	Template   string
	ID         string
	Occurrence int
}

func (k Key) String() string {
	s := k.Template + "/" + k.ID
	if k.Occurrence > 0 {
		s += "#" + strconv.Itoa(k.Occurrence+1)
	}
	return s
}

// KeyOf returns the catalog key of a record. Records parsed outside a walk
// have no Template and fall back to SourceFile.
func KeyOf(r parser.PolicyRecord) Key {
	template := r.Template
	if template == "" {
		template = r.SourceFile
	}
	return Key{Template: template, ID: r.ID, Occurrence: r.Occurrence}
}

// RecordHash fingerprints the emitted content of a record, used to skip
// re-embedding policies that did not change between ingests.
func RecordHash(r parser.PolicyRecord) string {
	data, _ := json.Marshal(r)
	return textutil.Hash(string(data))
}

// RunSummary is the bookkeeping row written for each ingest.
type RunSummary struct {
	RunID     string
	SourceDir string
	Files     int
	Policies  int
	Warnings  int
}

// Catalog persists policy records in PostgreSQL.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a new catalog.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// EnsureSchema creates the catalog tables if they do not exist.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create catalog schema: %w", err)
	}
	log.Info().Msg("Catalog schema ensured")
	return nil
}

// Hashes returns the stored content hash of every policy.
func (c *Catalog) Hashes(ctx context.Context) (map[Key]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT template, id, occurrence, hash FROM admx_policies`)
	if err != nil {
		return nil, fmt.Errorf("query policy hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[Key]string)
	for rows.Next() {
		var k Key
		var h string
		if err := rows.Scan(&k.Template, &k.ID, &k.Occurrence, &h); err != nil {
			return nil, fmt.Errorf("scan policy hash: %w", err)
		}
		hashes[k] = h
	}
	return hashes, rows.Err()
}

// Upsert inserts or updates records, tagging every row with runID. Records
// are written in one batch so a failed ingest leaves no partial run.
func (c *Catalog) Upsert(ctx context.Context, runID string, records []parser.PolicyRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	ordinals := make(map[string]int)
	batch := &pgx.Batch{}
	for _, r := range records {
		bindings := r.RegistryBindings
		if bindings == nil {
			bindings = []parser.RegistryBinding{}
		}
		category := r.Category
		if category == nil {
			category = []string{}
		}
		key := KeyOf(r)
		ordinal := ordinals[key.Template]
		ordinals[key.Template]++

		batch.Queue(`
			INSERT INTO admx_policies (template, id, occurrence, source_file, ordinal, display_name,
				description, scope, category_path, category, registry_key, registry_bindings,
				hash, run_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			ON CONFLICT (template, id, occurrence) DO UPDATE SET
				source_file = EXCLUDED.source_file,
				ordinal = EXCLUDED.ordinal,
				display_name = EXCLUDED.display_name,
				description = EXCLUDED.description,
				scope = EXCLUDED.scope,
				category_path = EXCLUDED.category_path,
				category = EXCLUDED.category,
				registry_key = EXCLUDED.registry_key,
				registry_bindings = EXCLUDED.registry_bindings,
				run_id = EXCLUDED.run_id,
				updated_at = CASE WHEN admx_policies.hash = EXCLUDED.hash
					THEN admx_policies.updated_at ELSE NOW() END,
				hash = EXCLUDED.hash
		`, key.Template, key.ID, key.Occurrence, r.SourceFile, ordinal, r.DisplayName, r.Description, string(r.Scope),
			r.CategoryPath, category, r.RegistryKey, bindings, RecordHash(r), runID)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert policies: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	log.Info().Int("policies", len(records)).Str("run_id", runID).Msg("Upserted policies")
	return nil
}

// Prune deletes policies not written by runID, i.e. those whose template or
// policy disappeared from the source tree.
func (c *Catalog) Prune(ctx context.Context, runID string) ([]Key, error) {
	rows, err := c.pool.Query(ctx, `DELETE FROM admx_policies WHERE run_id <> $1 RETURNING template, id, occurrence`, runID)
	if err != nil {
		return nil, fmt.Errorf("prune policies: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Key, error) {
		var k Key
		err := row.Scan(&k.Template, &k.ID, &k.Occurrence)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect pruned policies: %w", err)
	}

	if len(keys) > 0 {
		log.Info().Int("removed", len(keys)).Msg("Pruned stale policies")
	}
	return keys, nil
}

// RecordRun stores the summary of a finished ingest.
func (c *Catalog) RecordRun(ctx context.Context, s RunSummary) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO admx_runs (run_id, source_dir, files, policies, warnings, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING
	`, s.RunID, s.SourceDir, s.Files, s.Policies, s.Warnings, time.Now())
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	return nil
}

const selectColumns = `template, id, occurrence, source_file, display_name, description,
	scope, category_path, category, registry_key, registry_bindings`

func scanRecord(row pgx.CollectableRow) (parser.PolicyRecord, error) {
	var r parser.PolicyRecord
	var scope string
	err := row.Scan(&r.Template, &r.ID, &r.Occurrence, &r.SourceFile, &r.DisplayName,
		&r.Description, &scope, &r.CategoryPath, &r.Category, &r.RegistryKey, &r.RegistryBindings)
	r.Scope = parser.Scope(scope)
	return r, err
}

// All returns every stored policy ordered by template and document order.
func (c *Catalog) All(ctx context.Context) ([]parser.PolicyRecord, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+selectColumns+` FROM admx_policies ORDER BY template, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("collect policies: %w", err)
	}
	return records, nil
}

// Get looks up policies by key. Unknown keys are absent from the result.
func (c *Catalog) Get(ctx context.Context, keys []Key) (map[Key]parser.PolicyRecord, error) {
	if len(keys) == 0 {
		return map[Key]parser.PolicyRecord{}, nil
	}
	templates, ids, occurrences := KeyColumns(keys)

	rows, err := c.pool.Query(ctx, `
		SELECT `+selectColumns+` FROM admx_policies
		WHERE (template, id, occurrence) IN (SELECT * FROM unnest($1::text[], $2::text[], $3::int[]))
	`, templates, ids, occurrences)
	if err != nil {
		return nil, fmt.Errorf("query policies by key: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("collect policies by key: %w", err)
	}

	out := make(map[Key]parser.PolicyRecord, len(records))
	for _, r := range records {
		out[KeyOf(r)] = r
	}
	return out, nil
}

// KeyColumns splits keys into parallel arrays for unnest() queries.
func KeyColumns(keys []Key) (templates, ids []string, occurrences []int32) {
	templates = make([]string, len(keys))
	ids = make([]string, len(keys))
	occurrences = make([]int32, len(keys))
	for i, k := range keys {
		templates[i] = k.Template
		ids[i] = k.ID
		occurrences[i] = int32(k.Occurrence)
	}
	return templates, ids, occurrences
}
