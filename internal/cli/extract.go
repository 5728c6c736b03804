package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/cache"
	"github.com/TheTechNetwork/admx-help/internal/config"
	"github.com/TheTechNetwork/admx-help/internal/dataset"
	"github.com/TheTechNetwork/admx-help/internal/extract"
	"github.com/TheTechNetwork/admx-help/internal/watch"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrEmptyCorpus is returned by extract --fail-on-empty when no policy was found.
var ErrEmptyCorpus = errors.New("no policies extracted")

type siteOptions struct {
	noSite bool
	tsv    bool
}

func (o siteOptions) layout() dataset.Layout {
	return dataset.Layout{Page: !o.noSite, TSV: o.tsv}
}

func addSiteFlags(cmd *cobra.Command, so *siteOptions) {
	cmd.Flags().BoolVar(&so.noSite, "no-site", false, "Write only "+dataset.PoliciesFile+", without the search page")
	cmd.Flags().BoolVar(&so.tsv, "tsv", false, "Also write "+dataset.TSVFile+" with one row per registry value")
}

func extractCmd(opts *rootOptions) *cobra.Command {
	var so siteOptions
	var failOnEmpty bool

	cmd := &cobra.Command{
		Use:   "extract <source-dir> <output-dir>",
		Short: "Extract policies from a template directory into a static site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := setupContext()
			defer cancel()

			corpus, err := runExtract(ctx, cfg, args[0], args[1], so, nil, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if failOnEmpty && corpus.Empty() {
				return ErrEmptyCorpus
			}
			return nil
		},
	}

	addExtractFlags(cmd)
	addSiteFlags(cmd, &so)
	cmd.Flags().BoolVar(&failOnEmpty, "fail-on-empty", false, "Exit non-zero when no policies were extracted")

	return cmd
}

func watchCmd(opts *rootOptions) *cobra.Command {
	var so siteOptions

	cmd := &cobra.Command{
		Use:   "watch <source-dir> <output-dir>",
		Short: "Extract once, then rebuild the site whenever templates change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debounce") {
				cfg.Watch.Debounce, _ = cmd.Flags().GetDuration("debounce")
			}
			return runWatch(cfg, args[0], args[1], so, cmd.OutOrStdout())
		},
	}

	addExtractFlags(cmd)
	addSiteFlags(cmd, &so)
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a rebuild starts")

	return cmd
}

// runExtract parses sourceDir and writes the site into outputDir.
func runExtract(ctx context.Context, cfg *config.Config, sourceDir, outputDir string, so siteOptions, pc *cache.ParseCache, out io.Writer) (*extract.Corpus, error) {
	corpus, err := extract.Run(ctx, extract.Options{
		SourceDir: sourceDir,
		Locale:    cfg.Locale,
		Separator: cfg.Separator,
		Workers:   cfg.Workers,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
		Cache:     pc,
	})
	if err != nil {
		return nil, err
	}

	if corpus.Empty() {
		log.Warn().
			Str("source", sourceDir).
			Int("templates", len(corpus.Files)).
			Msg("No policies extracted, check the source directory and locale")
	}

	written, err := dataset.WriteSite(outputDir, corpus.Records, so.layout())
	if err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	printSummary(out, cfg.Locale, corpus, written)
	return corpus, nil
}

func runWatch(cfg *config.Config, sourceDir, outputDir string, so siteOptions, out io.Writer) error {
	ctx, cancel := setupContext()
	defer cancel()

	pc, err := cache.NewParseCache(cfg.CacheSize)
	if err != nil {
		return err
	}

	if _, err := runExtract(ctx, cfg, sourceDir, outputDir, so, pc, out); err != nil {
		return err
	}

	w, err := watch.New(sourceDir, cfg.Watch.Debounce, func(ctx context.Context, changed []string) error {
		_, err := runExtract(ctx, cfg, sourceDir, outputDir, so, pc, out)
		return err
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	if err := w.Stop(); err != nil {
		log.Warn().Err(err).Msg("Close watcher")
	}
	w.Wait()

	log.Info().Int("cached_templates", pc.Len()).Msg("Watch stopped")
	return nil
}

func printSummary(out io.Writer, locale string, corpus *extract.Corpus, written []string) {
	fmt.Fprintf(out, "Templates:          %d\n", len(corpus.Files))
	if n := corpus.WithoutLocale(); n > 0 {
		fmt.Fprintf(out, "  without %-10s %d\n", locale+":", n)
	}
	if n := corpus.Failed(); n > 0 {
		fmt.Fprintf(out, "  failed:           %d\n", n)
	}
	fmt.Fprintf(out, "Policies:           %d\n", len(corpus.Records))
	fmt.Fprintf(out, "Warnings:           %d\n", len(corpus.Warnings))
	if len(written) > 0 {
		fmt.Fprintf(out, "Output:             %s\n", strings.Join(written, ", "))
	}
}
