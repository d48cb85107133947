package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhircore/fhircore/internal/asyncjob"
	"github.com/fhircore/fhircore/internal/automation"
	"github.com/fhircore/fhircore/internal/bulkexport"
	"github.com/fhircore/fhircore/internal/config"
	"github.com/fhircore/fhircore/internal/fhirpath"
	"github.com/fhircore/fhircore/internal/graph"
	"github.com/fhircore/fhircore/internal/platform/db"
	"github.com/fhircore/fhircore/internal/platform/middleware"
	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/search"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/fhircore/fhircore/internal/subscription"
	"github.com/fhircore/fhircore/internal/terminology"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fhircore",
		Short: "FHIR storage, search, graph, and subscription core",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR core server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ahead-of-startup schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations, then ensure the shared runtime schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx, "public")
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("applied %d file-based migration(s)\n", count)

			if err := storage.EnsureSharedSchema(ctx, pool); err != nil {
				return fmt.Errorf("ensure shared schema: %w", err)
			}
			fmt.Println("shared runtime schema is current")
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if err := storage.EnsureSharedSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure shared schema")
	}

	// Storage, registry, search.
	store := storage.New(pool)
	searchParams := registry.New(store)
	if err := searchParams.Reload(ctx, registry.DefaultSearchParameters()); err != nil {
		logger.Fatal().Err(err).Msg("failed to load default search parameters")
	}

	localTerm := terminology.NewLocalProvider(pool, logger)
	if err := localTerm.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("terminology: initial refresh failed, continuing with builtins only")
	}
	var remoteTerm terminology.Provider
	if cfg.TerminologyEnabled && cfg.TerminologyServerURL != "" {
		ttl := 5 * time.Minute
		remoteTerm = terminology.NewRemoteProvider(cfg.TerminologyServerURL, ttl)
	}
	termBridge := terminology.NewBridge(pool, localTerm, remoteTerm)

	includeResolver := search.NewIncludeResolver(store, pool, searchParams)
	compiler := search.NewCompiler(searchParams, termBridge, includeResolver)
	indexer := search.NewIndexer(pool, searchParams, logger)
	store.AddListener(indexer)

	// Graph operations.
	everything := graph.NewEverything(store, pool)
	graphOp := graph.NewGraph(store, pool)

	// Subscription matcher + durable delivery.
	topics := subscription.NewRegistry()
	notificationQueue := subscription.NewQueue(pool)
	matcher := subscription.NewMatcher(topics, searchParams, notificationQueue, logger)
	store.AddListener(matcher)

	dispatcher := subscription.NewDispatcher(notificationQueue, logger)
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	go dispatcher.Run(dispatchCtx)

	// Async jobs + bulk export.
	jobStore := asyncjob.NewStore(pool)
	exportDir := cfg.BulkExportPath
	if exportDir == "" {
		exportDir = "./export-data"
	}
	exportService := bulkexport.NewService(store, everything, jobStore, exportDir, cfg.BulkExportMaxResourcesPerFile, logger)
	exportHandler := bulkexport.NewHandler(exportService, jobStore, exportDir)

	// Automations runtime.
	fhirpathEngine := fhirpath.NewEngine()
	automationRegistry := automation.NewRegistry()
	if err := automationRegistry.LoadFromStore(ctx, automation.NewStore(pool)); err != nil {
		logger.Warn().Err(err).Msg("automation: initial registry load failed")
	}
	executions := automation.NewExecutions(pool)
	runtime := automation.NewRuntime(automationRegistry, fhirpathEngine, executions, logger)
	store.AddListener(runtime)
	if err := runtime.StartCron(); err != nil {
		logger.Warn().Err(err).Msg("automation: cron scheduling failed")
	}

	// HTTP surface: the FHIR REST surface itself is out of CORE scope, but
	// $export is carried in per SPEC_FULL, plus health/readiness checks.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	fhirGroup := e.Group("/fhir")
	exportHandler.RegisterRoutes(fhirGroup)

	// The full FHIR REST surface (conditional create, transaction bundles,
	// content negotiation, auth) is out of CORE scope; these routes exist
	// only so the compiler/store and graph engine are reachable over HTTP
	// for local smoke-testing, not as a complete API.
	fhirGroup.POST("/:type/:id/$graph", func(c echo.Context) error {
		var def graph.GraphDefinition
		if err := c.Bind(&def); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		bundle, err := graphOp.Run(c.Request().Context(), &def, c.Param("type"), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, bundle)
	})

	fhirGroup.GET("/:type", func(c echo.Context) error {
		ctx := c.Request().Context()
		result, err := compiler.Compile(ctx, c.Param("type"), c.QueryParams())
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		rows, total, err := store.Search(ctx, c.Param("type"), result.Query)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"total": total, "entry": rows})
	})

	fhirGroup.GET("/:type/:id/$everything", func(c echo.Context) error {
		bundle, err := everything.Run(c.Request().Context(), c.Param("type"), c.Param("id"), graph.EverythingParams{})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, bundle)
	})

	addr := ":" + cfg.Port
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("fhircore listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelDispatch()
	runtime.StopCron(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
		return err
	}
	return nil
}
