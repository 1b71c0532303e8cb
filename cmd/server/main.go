package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/api"
	"github.com/dealfeed/dealfeed/internal/config"
	"github.com/dealfeed/dealfeed/internal/extract"
	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/ingest"
	"github.com/dealfeed/dealfeed/internal/keywords"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/normalize"
	"github.com/dealfeed/dealfeed/internal/storage"
	"github.com/dealfeed/dealfeed/internal/validator"
)

// initialIngestDelay lets the HTTP server come up before the first
// ingestion run hits the network.
const initialIngestDelay = 5 * time.Second

func main() {
	slog.Info("Starting deal feed server...")

	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DB.Path)
	if err != nil {
		slog.Error("Critical error opening deal store", "path", cfg.DB.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	aliases := alias.Default()
	matcher := keywords.Load()
	v := validator.New()

	fetcher := fetch.New(cfg.Ingest.FetchTimeout, fetch.WithUserAgent(cfg.Ingest.UserAgent))
	extractors := []extract.Extractor{
		extract.NewHeuristic(fetcher, matcher),
		extract.NewRSS(fetcher, matcher),
		extract.NewCSS(fetcher),
		extract.NewAffiliate(fetcher, aliases),
		extract.NewPattern(fetcher, matcher, aliases),
	}

	sources := func() []models.Source {
		return ingest.LoadSources(cfg.Ingest.StoresJSON, cfg.Ingest.StoresPath, v)
	}
	orch := ingest.New(store, normalize.New(aliases), v, extractors, sources, ingest.Options{
		Concurrency:      cfg.Ingest.Concurrency,
		PerSourceTimeout: cfg.Ingest.FetchTimeout,
	})

	handler := api.New(store, orch, aliases, cfg.Ingest.Retention)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	schedCtx, stopSched := context.WithCancel(ctx)
	go runScheduler(schedCtx, orch, cfg.Ingest)

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)
		stopSched()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

// runScheduler drives the periodic ingestion and cleanup cadence. The
// timing here is plain tickers; anything smarter belongs to an external
// scheduler hitting the trigger endpoints.
func runScheduler(ctx context.Context, orch *ingest.Orchestrator, cfg config.IngestConfig) {
	runIngestion := func() {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Interval)
		defer cancel()
		if _, err := orch.Run(runCtx); err != nil {
			slog.Error("Scheduled ingestion finished with faults", "error", err)
		}
	}
	runCleanup := func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := orch.Sweep(runCtx, cfg.Retention); err != nil {
			slog.Error("Scheduled cleanup failed", "error", err)
		}
	}

	select {
	case <-time.After(initialIngestDelay):
		runIngestion()
	case <-ctx.Done():
		return
	}

	ingestTicker := time.NewTicker(cfg.Interval)
	defer ingestTicker.Stop()
	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ingestTicker.C:
			runIngestion()
		case <-cleanupTicker.C:
			runCleanup()
		case <-ctx.Done():
			return
		}
	}
}
