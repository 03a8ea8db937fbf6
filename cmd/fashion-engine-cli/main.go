// Package main provides the fashion engine CLI entrypoint.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/backfill"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/browse"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/extractor"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/matching"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

// version is overridden at build time with -ldflags.
var version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	// Configuration, logger and output
	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "fashion-engine-cli",
	Short: "Fashion engine CLI for catalog browsing, image matching, and vector backfill",
	Long: `Fashion engine CLI works directly against the retailer product tables.

Use this tool to:
- Browse a category across retailer sources
- Find the catalog items most similar to a photo
- Compute missing product feature vectors

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		} else if level == "info" {
			level = "warn"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			Output:      cmd.ErrOrStderr(),
			NoColor:     noColor,
			ServiceName: "fashion-engine-cli",
		})
		ui = newUI(cmd.OutOrStdout(), cmd.ErrOrStderr(), outputJSON, noColor)

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// catalogEnv is the store wiring shared by the data commands.
type catalogEnv struct {
	db        *sql.DB
	aliases   *catalog.AliasTable
	whitelist *catalog.Whitelist
	composer  *catalog.Composer
	store     *storage.ProductStore
}

func openCatalog(ctx context.Context) (*catalogEnv, error) {
	dsn := cfg.DatabaseDSN()
	pool := storage.PoolConfig{
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	}
	if cfg.Database.Driver == "sqlite" {
		if cfgFile != "" {
			dsn = config.ResolveRelativePath(cfgFile, dsn)
		}
		pool = storage.PoolConfig{MaxOpenConns: cfg.Database.SQLite.MaxOpenConns}
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, dsn, pool)
	if err != nil {
		return nil, err
	}

	env := &catalogEnv{
		db:        db,
		aliases:   catalog.DefaultAliasTable(),
		whitelist: catalog.NewWhitelist(cfg.Catalog.Sources),
	}
	env.composer = catalog.NewComposer(env.whitelist)
	if cfg.Database.Driver == "sqlite" {
		if err := storage.EnsureSchema(ctx, db, env.composer); err != nil {
			db.Close()
			return nil, err
		}
	}
	env.store = storage.NewProductStore(db, env.composer)
	return env, nil
}

func newExtractor() *extractor.Client {
	return extractor.NewClient(extractor.Config{
		BaseURL:   cfg.Extractor.BaseURL,
		Path:      cfg.Extractor.Path,
		Field:     cfg.Extractor.Field,
		Dimension: cfg.Extractor.Dimension,
		Timeout:   cfg.Extractor.Timeout,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newBrowseCmd creates the browse subcommand.
func newBrowseCmd() *cobra.Command {
	var (
		tables   string
		category string
		union    bool
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List the products of a category across retailer sources",
		Long: `Browse expands the category into its aliases and fetches every product
whose category contains one of them, from each requested source that is on
the whitelist. Unknown sources are ignored.`,
		Example: `  fashion-engine-cli browse --tables hm_products,zara_products --category Hoodie`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer env.db.Close()

			svc := browse.NewService(browse.Config{
				Aliases:    env.aliases,
				Composer:   env.composer,
				Store:      env.store,
				Logger:     logger,
				Concurrent: cfg.Catalog.ConcurrentFetch && !union,
			})

			start := time.Now()
			products, err := svc.Browse(ctx, catalog.SplitSources(tables), category)
			if err != nil {
				ui.Error("Browse failed: %v", err)
				return err
			}

			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), products)
			}
			if len(products) == 0 {
				ui.Info("No products in %q for the requested sources", category)
				return nil
			}

			rows := make([][]string, len(products))
			for i, p := range products {
				rows[i] = []string{p.Source, strconv.FormatInt(p.ID, 10), Truncate(p.Name, 40), FormatPrice(p.Price), p.Category}
			}
			ui.Table([]string{"Source", "ID", "Name", "Price", "Category"}, rows)
			ui.Success("%d products in %s", len(products), FormatDuration(time.Since(start)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tables, "tables", "t", "", "comma-separated source tables (required)")
	cmd.Flags().StringVar(&category, "category", "", "canonical category (required)")
	cmd.Flags().BoolVar(&union, "union", false, "fetch all sources in one UNION ALL query")
	cmd.MarkFlagRequired("tables")
	cmd.MarkFlagRequired("category")

	return cmd
}

// newMatchCmd creates the match subcommand.
func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <image-file>",
		Short: "Find the catalog products most similar to an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			env, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer env.db.Close()

			orch := matching.NewOrchestrator(matching.Config{
				Extractor:      newExtractor(),
				Store:          env.store,
				Composer:       env.composer,
				Logger:         logger,
				ExtractTimeout: cfg.Extractor.Timeout,
				K:              cfg.Matching.TopK,
			})

			stop := ui.Spinner("Analyzing " + filepath.Base(args[0]))
			start := time.Now()
			matches, stats, err := orch.MatchWithStats(ctx, image, filepath.Base(args[0]))
			stop()
			if err != nil {
				ui.Error("Match failed: %v", err)
				return err
			}

			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), matches)
			}
			if len(matches) == 0 {
				ui.Info("No catalog products with a usable feature vector (%d candidates)", stats.Candidates)
				return nil
			}

			rows := make([][]string, len(matches))
			for i, m := range matches {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					strconv.FormatFloat(m.Similarity, 'f', 4, 64),
					m.Source,
					Truncate(m.Name, 40),
					FormatPrice(m.Price),
					m.ProductLink,
				}
			}
			ui.Table([]string{"#", "Similarity", "Source", "Name", "Price", "Link"}, rows)
			if stats.Excluded > 0 {
				ui.Warning("%d candidates skipped (unreadable or wrong-size vectors)", stats.Excluded)
			}
			ui.Success("%d matches from %d candidates in %s", stats.Returned, stats.Candidates, FormatDuration(time.Since(start)))
			return nil
		},
	}

	return cmd
}

// newBackfillCmd creates the backfill subcommand.
func newBackfillCmd() *cobra.Command {
	var (
		sources string
		limit   int
		workers int
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Compute feature vectors for products that have none",
		Long: `Backfill downloads the image of every product without a stored feature
vector, sends it to the feature extractor, and stores the result. Products
whose image cannot be fetched or analyzed are skipped and retried on the next
run.

With --all every product that has an image is processed and stored vectors
are overwritten.`,
		Example: `  fashion-engine-cli backfill --sources hm_products --limit 100
  fashion-engine-cli backfill --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer env.db.Close()

			selected := env.whitelist.Sources()
			if sources != "" {
				selected, err = env.whitelist.Filter(catalog.SplitSources(sources))
				if err != nil {
					return err
				}
			}

			if workers <= 0 {
				workers = cfg.Backfill.Workers
			}

			ui.Section("Vector backfill")
			if all {
				ui.Warning("Recomputing every vector; stored vectors will be overwritten")
			}
			for _, src := range selected {
				ui.Step("%s (limit %s)", src, limitLabel(limit))
			}

			bars := make(map[string]*mpb.Bar, len(selected))
			for _, src := range selected {
				if bar := ui.ProgressBar(src, int64(limit)); bar != nil {
					bars[src] = bar
				}
			}

			job := backfill.NewJob(backfill.Config{
				Store:      env.store,
				Extractor:  newExtractor(),
				Downloader: backfill.NewHTTPDownloader(cfg.Backfill.DownloadTimeout, cfg.Server.MaxUploadBytes),
				Logger:     logger,
				Workers:    workers,
				BatchSize:  cfg.Backfill.BatchSize,
				Limit:      limit,
				All:        all,
				Progress: func(source string, processed int) {
					if bar, ok := bars[source]; ok {
						bar.Increment()
					}
				},
			})

			report, err := job.Run(ctx, selected)
			for _, bar := range bars {
				bar.SetTotal(-1, true)
			}
			ui.Close()
			if err != nil {
				ui.Error("Backfill failed: %v", err)
				return err
			}

			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			ui.Section("Report")
			rows := make([][]string, len(report.Sources))
			for i, s := range report.Sources {
				rows[i] = []string{s.Source, strconv.Itoa(s.Scanned), strconv.Itoa(s.Updated), strconv.Itoa(s.Skipped)}
			}
			ui.Table([]string{"Source", "Scanned", "Updated", "Skipped"}, rows)
			ui.KeyValue("Run ID", report.RunID)
			ui.Success("Backfill completed in %s", FormatDuration(report.Duration))
			return nil
		},
	}

	cmd.Flags().StringVar(&sources, "sources", "", "comma-separated subset of sources (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum products per source (0 = no limit)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent downloads (default: backfill.workers)")
	cmd.Flags().BoolVar(&all, "all", false, "recompute vectors for every product with an image")

	return cmd
}

func limitLabel(limit int) string {
	if limit <= 0 {
		return "none"
	}
	return strconv.Itoa(limit)
}

// newSourcesCmd creates the sources subcommand.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the whitelisted retailer sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := catalog.NewWhitelist(cfg.Catalog.Sources).Sources()
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), sources)
			}
			rows := make([][]string, len(sources))
			for i, s := range sources {
				rows[i] = []string{s}
			}
			ui.Table([]string{"Source"}, rows)
			return nil
		},
	}
}

// newCategoriesCmd creates the categories subcommand.
func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the canonical categories and their aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := catalog.DefaultAliasTable().Entries()
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Category, strings.Join(e.Aliases, ", ")}
			}
			ui.Table([]string{"Category", "Aliases"}, rows)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				writeJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fashion-engine-cli %s (%s)\n", version, runtime.Version())
		},
	}
}
