package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/importer"
	"github.com/liamcoop/docforge/internal/config"
	"github.com/liamcoop/docforge/questionnaire"
	"github.com/liamcoop/docforge/resolver"
)

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint [catalog-dir]",
		Short: "Validate a catalog directory without publishing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "content"
			if len(args) == 1 {
				dir = args[0]
			}
			return runLint(dir, cmd.OutOrStdout())
		},
	}
}

func runLint(dir string, out io.Writer) error {
	bundle, err := catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	conds, err := conditions.NewEngine()
	if err != nil {
		return err
	}
	if err := importer.Validate(bundle, conds); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d templates, %d overlays ok\n", dir, len(bundle.Templates), len(bundle.Overlays))
	return nil
}

func newQuestionsCmd() *cobra.Command {
	var catalogDir, jurisdiction, language string
	cmd := &cobra.Command{
		Use:   "questions TEMPLATE_CODE",
		Short: "Print the questionnaire of a template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuestions(cmd.Context(), catalogDir, args[0], jurisdiction, language, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&catalogDir, "catalog", "c", "content", "Catalog directory")
	cmd.Flags().StringVarP(&jurisdiction, "jurisdiction", "j", "", "Resolve the overlay of this jurisdiction first")
	cmd.Flags().StringVarP(&language, "language", "l", "en", "Language code")
	return cmd
}

func runQuestions(ctx context.Context, dir, code, jurisdiction, language string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conds, err := conditions.NewEngine()
	if err != nil {
		return err
	}
	store, err := loadCatalog(ctx, dir, conds)
	if err != nil {
		return err
	}

	var vars map[string]catalog.VariableSpec
	if jurisdiction == "" {
		t, err := store.GetTemplate(ctx, code)
		if err != nil {
			return err
		}
		vars = t.Variables
	} else {
		resolved, err := resolver.New(store).Resolve(ctx, code, jurisdiction, language)
		if err != nil {
			return err
		}
		vars = resolved.Variables
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(questionnaire.Build(vars))
}

func newImportCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "import [catalog-dir]",
		Short: "Publish a catalog directory into the Postgres catalog",
		Long: "Validates every template and overlay, publishes new template versions and\n" +
			"upserts overlays. When REDIS_ADDR is set the shared resolver cache is\n" +
			"invalidated for every template touched.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := cfg.CatalogDir
			if len(args) == 1 {
				dir = args[0]
			}
			if databaseURL != "" {
				cfg.DatabaseURL = databaseURL
			}
			return runImport(cmd.Context(), cfg, dir, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	return cmd
}

func runImport(ctx context.Context, cfg config.Config, dir string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database URL is required: use --database or DATABASE_URL")
	}

	bundle, err := catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	conds, err := conditions.NewEngine()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	store := catalog.NewPostgresStore(db)
	var invalidator importer.Invalidator
	if cfg.Redis.Addr != "" {
		cache := resolver.NewRedisCacheFromAddr(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, resolver.CacheConfig{TTL: cfg.Cache.TTL})
		defer cache.Close()
		invalidator = resolver.New(store, resolver.WithCache(cache))
	}

	report, err := importer.New(store, conds, invalidator).Import(ctx, bundle)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
