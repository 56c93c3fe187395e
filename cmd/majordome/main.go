// Majordome cognitive core — ingests source mirrors, runs the staged
// analysis chain over a worker pool, and serves the approval queue and
// knowledge store over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/majordome-ai/majordome/pkg/actions"
	"github.com/majordome-ai/majordome/pkg/api"
	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/crosssource"
	"github.com/majordome-ai/majordome/pkg/database"
	"github.com/majordome-ai/majordome/pkg/embedding"
	"github.com/majordome-ai/majordome/pkg/events"
	"github.com/majordome-ai/majordome/pkg/knowledge"
	"github.com/majordome-ai/majordome/pkg/llm"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/perceive"
	"github.com/majordome-ai/majordome/pkg/planner"
	"github.com/majordome-ai/majordome/pkg/queue"
	"github.com/majordome-ai/majordome/pkg/retrieval"
	"github.com/majordome-ai/majordome/pkg/services"
	"github.com/majordome-ai/majordome/pkg/valet"
	"github.com/majordome-ai/majordome/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveInstanceID determines the identifier workers stamp on their claims.
// Priority: INSTANCE_ID env > hostname-pid
func resolveInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	return queue.NewInstanceID()
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	instanceID := resolveInstanceID()
	logger := slog.Default()

	slog.Info("Starting majordome",
		"version", version.Full(),
		"http_port", httpPort,
		"instance_id", instanceID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	db := dbClient.DB()
	slog.Info("Connected to PostgreSQL database")

	// 3. Event bus and durable journal
	eventBus := bus.New()
	defer eventBus.Close()

	journal := events.NewJournal(db)
	journal.Start(ctx, eventBus)
	defer journal.Stop(eventBus)

	// 4. Knowledge store
	engine, err := embedding.NewEngine(cfg.Knowledge.Embedding)
	if err != nil {
		slog.Error("Failed to initialize embedding engine", "error", err)
		os.Exit(1)
	}
	store, err := knowledge.Open(*cfg.Knowledge, engine, logger)
	if err != nil {
		slog.Error("Failed to open knowledge store", "error", err)
		os.Exit(1)
	}
	if cfg.Knowledge.WatchEnabled() {
		watcher, err := knowledge.NewWatcher(store, logger)
		if err != nil {
			slog.Error("Failed to start knowledge watcher", "error", err)
			os.Exit(1)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}
	slog.Info("Knowledge store opened",
		"root_dir", cfg.Knowledge.RootDir,
		"embedding", engine.Name())

	// 5. Domain services
	warningsService := services.NewSystemWarningsService()
	ingestService := services.NewIngestService(db, logger)
	feedbackService := services.NewFeedbackService(db, eventBus, cfg.Stopping, logger)
	notesService := services.NewNotesService(store, logger)
	slog.Info("Services initialized")

	// 6. Model router: one client per distinct provider, tier bindings with
	// rate limits and breakers on top.
	clients := make(map[string]llm.Client)
	for _, binding := range cfg.TierBindings {
		if _, ok := clients[binding.Provider]; ok {
			continue
		}
		providerCfg, err := cfg.GetLLMProvider(binding.Provider)
		if err != nil {
			slog.Error("Failed to resolve LLM provider", "provider", binding.Provider, "error", err)
			os.Exit(1)
		}
		client, err := llm.NewClient(binding.Provider, providerCfg)
		if err != nil {
			slog.Error("Failed to initialize LLM client", "provider", binding.Provider, "error", err)
			os.Exit(1)
		}
		clients[binding.Provider] = client
	}
	router, err := llm.NewRouter(clients, cfg.TierBindings, logger)
	if err != nil {
		slog.Error("Failed to initialize model router", "error", err)
		os.Exit(1)
	}
	slog.Info("Model router initialized", "providers", len(clients), "tiers", len(cfg.TierBindings))

	// 7. Retrieval surfaces: knowledge-store context and cross-source search
	retriever := retrieval.NewRetriever(store, cfg.Context, logger)

	adapters := []crosssource.Adapter{
		crosssource.NewMailAdapter(db),
		crosssource.NewCalendarAdapter(db),
		crosssource.NewChatAdapter(db, models.SourceTeams),
		crosssource.NewChatAdapter(db, models.SourceWhatsApp),
		crosssource.NewLocalFileAdapter(cfg.CrossSource.LocalFiles),
	}
	if endpoint := os.Getenv("WEB_SEARCH_ENDPOINT"); endpoint != "" {
		adapters = append(adapters, crosssource.NewWebAdapter(endpoint, http.DefaultClient))
	}
	searcher := crosssource.NewSearcher(adapters, store, cfg.CrossSource, logger)
	searchService := services.NewSearchService(searcher, warningsService, logger)

	// 8. Four-valet orchestrator
	orchestrator, err := valet.NewOrchestrator(valet.Options{
		Router:       router,
		Retriever:    retriever,
		Searcher:     searcher,
		Priors:       feedbackService,
		Thresholds:   feedbackService,
		Bus:          eventBus,
		Orchestrator: cfg.Orchestrator,
		Stages:       cfg.Stages,
		Stopping:     cfg.Stopping,
		Models:       cfg.Models,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	// 9. Action registry and executor. Source dispositions go through the
	// journaling actuator until write-capable connectors exist.
	registry := actions.NewRegistry()
	actuator := actions.NewJournalActuator(logger)
	if err := registerHandlers(registry, store, actuator); err != nil {
		slog.Error("Failed to register action handlers", "error", err)
		os.Exit(1)
	}
	executor := actions.NewExecutor(registry, cfg.Executor, eventBus, logger)
	undoRegistry := actions.NewUndoRegistry(cfg.Queue.UndoWindow(), logger)

	// 10. Planner, approval queue, and the analysis pipeline
	plannerService := planner.NewPlanner(eventBus, logger)
	queueService := services.NewQueueService(db, plannerService, executor, undoRegistry,
		feedbackService, eventBus, cfg.Queue, logger)
	runner := queue.NewAnalysisRunner(orchestrator, plannerService, executor, undoRegistry,
		queueService, logger)

	// 11. Worker pool (before HTTP so claims recover first)
	workerPool := queue.NewWorkerPool(instanceID, db, cfg.Workers, runner, logger)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 12. Background housekeeping: snooze/undo scanning and retention
	dueScanner := queue.NewDueScanner(queueService, cfg.Queue.DueScanInterval,
		cfg.Workers.OrphanThreshold, logger)
	dueScanner.Start(ctx)

	retention := queue.NewRetention(workerPool.Store(), journal, cfg.Retention, logger)
	retention.Start(ctx)

	// 13. Perception: spool adapters for each enabled source
	sourceAdapters := make([]perceive.SourceAdapter, 0, len(cfg.Sources.Enabled))
	for _, name := range cfg.Sources.Enabled {
		dir := filepath.Join(cfg.Sources.SpoolDir, name)
		sourceAdapters = append(sourceAdapters, perceive.NewSpoolAdapter(models.Source(name), dir, logger))
	}
	ingestor := perceive.NewIngestor(perceive.IngestorOptions{
		Adapters:   sourceAdapters,
		Normalizer: perceive.NewNormalizer(cfg.Sources),
		Continuity: perceive.NewContinuity(cfg.Sources),
		Backlog:    ingestService,
		Bus:        eventBus,
		Health:     warningsService,
		Logger:     logger,
		Buffer:     cfg.Workers.IngestBuffer,
	})
	ingestor.Start(ctx)
	slog.Info("Ingestor started", "sources", cfg.Sources.Enabled, "spool_dir", cfg.Sources.SpoolDir)

	// 14. HTTP server
	httpServer := api.NewServer(api.Options{
		Queue:    queueService,
		Notes:    notesService,
		Search:   searchService,
		Ingest:   ingestService,
		Feedback: feedbackService,
		Warnings: warningsService,
		Journal:  journal,
		Bus:      eventBus,
		Pool:     workerPool,
		Breakers: router,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Majordome started successfully",
		"instance_id", instanceID,
		"workers", cfg.Workers.WorkerCount)

	// 15. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 16. Graceful shutdown: stop intake first, then drain workers
	ingestor.Stop()
	dueScanner.Stop()
	retention.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Workers.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete analyses will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// registerHandlers wires every plannable action kind: note writes against
// the knowledge store, source dispositions and side effects against the
// actuator, and the queue_for_review marker.
func registerHandlers(registry *actions.Registry, store *knowledge.Store,
	actuator *actions.JournalActuator) error {
	if err := actions.RegisterNoteHandlers(registry, store); err != nil {
		return err
	}
	if err := actions.RegisterSourceHandlers(registry, actuator); err != nil {
		return err
	}
	if err := actions.RegisterSideEffectHandlers(registry, actuator, actuator); err != nil {
		return err
	}
	return actions.RegisterReviewHandler(registry)
}
