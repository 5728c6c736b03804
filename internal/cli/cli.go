package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheTechNetwork/admx-help/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
	jsonLogs   bool
}

// Execute runs the CLI application.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "admx-help",
		Short: "Extract Group Policy settings from ADMX/ADML templates",
		Long: `Parses a directory of ADMX templates and their localized ADML string tables
into one record per policy, writes a searchable static site, and can load the
records into PostgreSQL, Neo4j and an S3 bucket.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Arguments are valid by now; later failures are not usage errors.
			cmd.SilenceUsage = true
			setupLogging(opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "Write logs as JSON lines")

	rootCmd.AddCommand(extractCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(ingestCmd(opts))
	rootCmd.AddCommand(searchCmd(opts))
	rootCmd.AddCommand(publishCmd(opts))

	return rootCmd
}

func setupLogging(opts *rootOptions) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if opts.jsonLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// loadConfig reads the layered configuration and lets explicitly set
// extraction flags win over it.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("locale") {
		cfg.Locale, _ = flags.GetString("locale")
	}
	if flags.Changed("separator") {
		cfg.Separator, _ = flags.GetString("separator")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("include") {
		cfg.Include, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		cfg.Exclude, _ = flags.GetStringSlice("exclude")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// addExtractFlags registers the flags shared by commands that walk a source tree.
func addExtractFlags(cmd *cobra.Command) {
	cmd.Flags().String("locale", config.DefaultConfig().Locale, "ADML locale subdirectory to resolve strings from")
	cmd.Flags().String("separator", config.DefaultConfig().Separator, "Separator used to join category path segments")
	cmd.Flags().Int("workers", config.DefaultConfig().Workers, "Number of templates parsed concurrently")
	cmd.Flags().StringSlice("include", nil, "Only parse templates matching these globs (relative to the source directory)")
	cmd.Flags().StringSlice("exclude", nil, "Skip templates matching these globs (relative to the source directory)")
}

// setupContext creates a cancellable context that is cancelled on SIGINT/SIGTERM.
func setupContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Warn().Msg("Received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// openPostgres connects to the catalog database and verifies the connection.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL")
	return pool, nil
}

// openNeo4j returns nil, nil when no graph is configured.
func openNeo4j(ctx context.Context, cfg *config.Config) (neo4j.DriverWithContext, error) {
	if cfg.RequireNeo4j() != nil {
		log.Debug().Msg("Neo4j not configured, skipping category graph")
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4j.URI,
		neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to Neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify Neo4j connectivity: %w", err)
	}
	log.Info().Msg("Connected to Neo4j")
	return driver, nil
}
