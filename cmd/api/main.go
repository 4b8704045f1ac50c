package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"imagedex/internal/config"
	"imagedex/internal/contextutil"
	"imagedex/internal/handlers"
	"imagedex/internal/http"
	"imagedex/internal/ingest"
	"imagedex/internal/jobs"
	"imagedex/internal/models"
	"imagedex/internal/search"
	"imagedex/internal/storage"
	"imagedex/internal/thumbs"
	"imagedex/internal/ws"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := contextutil.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel, "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	// Create repository instances
	imageRepo := storage.NewImageRepo(db)
	tagRepo := storage.NewTagRepo(db)
	jobRepo := storage.NewJobRepo(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Library scanner
	ingestor := ingest.NewIngestor(imageRepo, tagRepo, jobRepo, ingest.Options{
		PrimaryRoot:      cfg.LibraryRoot,
		AutoTagEnabled:   cfg.AutoTagEnabled,
		AutoTagModel:     cfg.AutoTagModel,
		MergeStrategy:    cfg.MergeStrategy,
		EmbeddingEnabled: cfg.EmbeddingEnabled,
		EmbeddingModel:   cfg.EmbeddingModel,
	}, logger)
	scanner := ingest.NewScanner(ingestor, cfg.ExtraRoots, cfg.RescanInterval, logger)
	slog.Info("Scanner initialized", "root", cfg.LibraryRoot, "extra_roots", len(cfg.ExtraRoots), "interval", cfg.RescanInterval)

	// Model clients and workers. Each worker is optional; a disabled
	// worker leaves its job rows untouched.
	var wg sync.WaitGroup
	trackers := make(map[string]*jobs.Progress)
	controls := make(map[string]handlers.WorkerControl)
	var publishTrackers []*jobs.Progress

	embedder := models.NewEmbeddingClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingVectorSize)
	if cfg.EmbeddingEnabled {
		progress := jobs.NewProgress(storage.JobKindEmbedding)
		handler := jobs.NewEmbeddingHandler(jobRepo, embedder, cfg.EmbeddingModel, ingestor.Resolve)
		worker := jobs.NewWorker(jobRepo, handler, progress, cfg.EmbeddingModel, cfg.EmbeddingBatchSize, logger)
		trackers[storage.JobKindEmbedding] = progress
		controls[storage.JobKindEmbedding] = worker
		publishTrackers = append(publishTrackers, progress)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
		slog.Info("Embedding worker started", "model", cfg.EmbeddingModel, "base_url", cfg.EmbeddingBaseURL)
	}

	if cfg.AutoTagEnabled {
		tagger := models.NewTaggerClient(cfg.TaggerBaseURL, cfg.AutoTagModel)
		progress := jobs.NewProgress(storage.JobKindAutoTag)
		handler := jobs.NewAutoTagHandler(jobRepo, tagRepo, tagger, cfg.AutoTagModel, cfg.MergeStrategy,
			cfg.GeneralThreshold, cfg.CharacterThreshold, ingestor.Resolve)
		worker := jobs.NewWorker(jobRepo, handler, progress, cfg.AutoTagModel, cfg.AutoTagBatchSize, logger)
		trackers[storage.JobKindAutoTag] = progress
		controls[storage.JobKindAutoTag] = worker
		publishTrackers = append(publishTrackers, progress)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
		slog.Info("Auto-tag worker started", "model", cfg.AutoTagModel, "base_url", cfg.TaggerBaseURL)
	}

	// Search surfaces
	engine := search.NewEngine(db, cfg.LibraryRoot)
	similarity := search.NewSimilarity(jobRepo, embedder, cfg.EmbeddingModel)

	thumbCache, err := thumbs.NewCache(cfg.ThumbDir, cfg.ThumbSize)
	if err != nil {
		log.Fatalf("Failed to create thumbnail cache: %v", err)
	}

	// Progress stream
	hub := ws.NewHub(logger)
	go hub.Run()
	publisher := ws.NewPublisher(hub, publishTrackers, time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()

	deps := &http.Deps{
		Health:       handlers.NewHealthHandler(db),
		Search:       handlers.NewSearchHandler(engine),
		Facets:       handlers.NewFacetsHandler(engine),
		Autocomplete: handlers.NewAutocompleteHandler(engine),
		Images:       handlers.NewImagesHandler(imageRepo, tagRepo, ingestor.Resolve, thumbCache),
		Similar:      handlers.NewSimilarHandler(similarity, engine, imageRepo),
		Jobs:         handlers.NewJobsHandler(trackers, controls, scanner),
		WebSocket:    hub.Serve,
	}
	router := http.NewRouter(deps)

	// Start scanning in background after the router is ready
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner.Run(ctx)
	}()

	server := &nethttp.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting API server", "addr", cfg.Addr())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		log.Fatalf("API server failed to start: %v", err)
	}

	wg.Wait()
	hub.Shutdown()
	slog.Info("Shutdown complete")
}
