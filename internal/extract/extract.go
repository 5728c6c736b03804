package extract

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/TheTechNetwork/admx-help/internal/cache"
	"github.com/TheTechNetwork/admx-help/internal/filewalker"
	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Options controls one extraction run.
type Options struct {
	SourceDir string
	Locale    string
	Separator string
	Workers   int
	Include   []string
	Exclude   []string
	// Cache reuses results for unchanged templates. Nil disables caching.
	Cache *cache.ParseCache
}

// FileSummary describes what happened to one discovered template.
type FileSummary struct {
	Path      string `json:"path"`
	HasLocale bool   `json:"has_locale"`
	Policies  int    `json:"policies"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Corpus is the aggregated output of a run over a source directory.
type Corpus struct {
	RunID     string
	SourceDir string
	// Records are ordered by template discovery order, then document order.
	Records  []parser.PolicyRecord
	Files    []FileSummary
	Warnings []parser.Warning
}

// Empty reports whether the run produced no policies at all.
func (c *Corpus) Empty() bool {
	return len(c.Records) == 0
}

// WithoutLocale counts templates that had no ADML for the run's locale.
func (c *Corpus) WithoutLocale() int {
	var n int
	for _, f := range c.Files {
		if !f.HasLocale {
			n++
		}
	}
	return n
}

// Failed counts templates that could not be parsed.
func (c *Corpus) Failed() int {
	var n int
	for _, f := range c.Files {
		if f.Error != "" {
			n++
		}
	}
	return n
}

type fileOutcome struct {
	result *parser.ParseResult
	cached bool
}

// Run discovers templates under opts.SourceDir, parses them concurrently and
// aggregates their records. A template that fails to parse is logged and
// recorded as a warning; only discovery errors and cancellation fail the run.
func Run(ctx context.Context, opts Options) (*Corpus, error) {
	separator := opts.Separator
	if separator == "" {
		separator = parser.DefaultSeparator
	}
	locale := opts.Locale
	if locale == "" {
		locale = filewalker.DefaultLocale
	}

	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	walker := filewalker.NewWalker(locale,
		filewalker.WithParsers(parser.NewADMXParser(separator)),
		filewalker.WithInclude(opts.Include...),
		filewalker.WithExclude(opts.Exclude...),
	)

	entries, err := walker.Walk(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("discover templates: %w", err)
	}

	pool := worker.NewPool[filewalker.FileEntry, fileOutcome](opts.Workers, func(ctx context.Context, entry filewalker.FileEntry) (fileOutcome, error) {
		if err := ctx.Err(); err != nil {
			return fileOutcome{}, err
		}

		key, err := cache.Fingerprint([]string{entry.Path, entry.LocalePath}, "locale="+locale, "sep="+separator)
		if err != nil {
			logger.Debug().Err(err).Str("file", entry.RelPath).Msg("Fingerprint failed, parsing uncached")
			key = ""
		}
		if cached, ok := opts.Cache.Get(key); ok {
			return fileOutcome{result: cached, cached: true}, nil
		}

		result, err := walker.ParseFile(entry)
		if err != nil {
			return fileOutcome{}, err
		}
		opts.Cache.Add(key, result)
		return fileOutcome{result: result}, nil
	})

	tasks := pool.Execute(ctx, entries)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}

	corpus := &Corpus{
		RunID:     runID,
		SourceDir: opts.SourceDir,
		Records:   []parser.PolicyRecord{},
		Files:     make([]FileSummary, 0, len(entries)),
	}

	for _, task := range tasks {
		entry := task.Input
		summary := FileSummary{
			Path:      entry.RelPath,
			HasLocale: entry.LocalePath != "",
		}

		if task.Err != nil {
			logger.Warn().Err(task.Err).Str("file", entry.RelPath).Msg("Skipping unparseable template")
			summary.Error = task.Err.Error()
			corpus.Warnings = append(corpus.Warnings, parser.Warning{
				File:    filepath.Base(entry.Path),
				Message: fmt.Sprintf("template skipped: %v", task.Err),
			})
			corpus.Files = append(corpus.Files, summary)
			continue
		}

		result := task.Result.result
		summary.Policies = len(result.Policies)
		summary.Cached = task.Result.cached
		corpus.Records = append(corpus.Records, result.Policies...)
		corpus.Warnings = append(corpus.Warnings, result.Warnings...)
		corpus.Files = append(corpus.Files, summary)

		for _, w := range result.Warnings {
			logger.Warn().Str("file", w.File).Str("policy", w.Policy).Msg(w.Message)
		}
		logger.Debug().
			Str("file", entry.RelPath).
			Int("policies", summary.Policies).
			Bool("cached", summary.Cached).
			Msg("Parsed template")
	}

	logger.Info().
		Int("files", len(corpus.Files)).
		Int("without_locale", corpus.WithoutLocale()).
		Int("failed", corpus.Failed()).
		Int("policies", len(corpus.Records)).
		Int("warnings", len(corpus.Warnings)).
		Msg("Extraction complete")

	return corpus, nil
}
