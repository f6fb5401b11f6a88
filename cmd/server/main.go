package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/docforge/artifacts"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/entitlements"
	"github.com/liamcoop/docforge/importer"
	"github.com/liamcoop/docforge/internal/config"
	"github.com/liamcoop/docforge/internal/logger"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

// buildDeps wires stores, caches and clients from cfg. Without a database
// URL the catalog and entitlements live in memory. The returned cleanup
// closes what was opened.
func buildDeps(ctx context.Context, cfg config.Config) (Deps, func(), error) {
	deps := Deps{Config: cfg}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	conds, err := conditions.NewEngine()
	if err != nil {
		return deps, cleanup, fmt.Errorf("failed to create condition engine: %w", err)
	}
	deps.Conditions = conds

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return deps, cleanup, fmt.Errorf("failed to open database: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		if err := db.PingContext(ctx); err != nil {
			return deps, cleanup, fmt.Errorf("failed to ping database: %w", err)
		}
		deps.DB = db
		deps.Catalog = catalog.NewPostgresStore(db)
		deps.Entitlements = entitlements.NewService(entitlements.NewPostgresStore(db))
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory catalog and entitlements")
		deps.Catalog = catalog.NewInMemoryStore()
		deps.Entitlements = entitlements.NewService(entitlements.NewInMemoryStore())
	}

	cacheConfig := resolver.CacheConfig{TTL: cfg.Cache.TTL}
	var cache resolver.Cache
	if cfg.Redis.Addr != "" {
		rc := resolver.NewRedisCacheFromAddr(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cacheConfig)
		closers = append(closers, func() { rc.Close() })
		cache = rc
	} else {
		cache = resolver.NewInMemoryCache(cacheConfig)
	}
	deps.Resolver = resolver.New(deps.Catalog, resolver.WithCache(cache))

	var pdf render.PDFConverter
	if cfg.PDF.URL != "" {
		pdf = render.NewChromiumClient(cfg.PDF.URL, cfg.PDF.Timeout)
	}
	deps.Renderer = render.NewRenderer(pdf)

	if cfg.S3.Bucket != "" {
		store, err := artifacts.NewS3Store(ctx, artifacts.S3StoreConfig{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   cfg.S3.Prefix,
		})
		if err != nil {
			return deps, cleanup, fmt.Errorf("failed to create artifact store: %w", err)
		}
		deps.Artifacts = store
	}

	if err := seedCatalog(ctx, cfg.CatalogDir, deps); err != nil {
		return deps, cleanup, err
	}
	return deps, cleanup, nil
}

// seedCatalog imports the catalog directory. Versions already published are
// left untouched, so this is safe on every start.
func seedCatalog(ctx context.Context, dir string, deps Deps) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("catalog directory not found, skipping import", "dir", dir)
		return nil
	}

	bundle, err := catalog.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	report, err := importer.New(deps.Catalog, deps.Conditions, deps.Resolver).Import(ctx, bundle)
	if err != nil {
		return fmt.Errorf("failed to import catalog: %w", err)
	}
	logger.Info("catalog loaded",
		"dir", dir,
		"published", report.Published,
		"unchanged", len(report.Unchanged),
		"overlays", report.Overlays)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	deps, cleanup, err := buildDeps(startCtx, cfg)
	cancelStart()
	if err != nil {
		cleanup()
		logger.Fatal("failed to create server", "error", err)
	}
	defer cleanup()

	server := NewServer(deps)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	server.Close()
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
