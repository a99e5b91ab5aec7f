package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/financinha/internal/api"
	"github.com/dvloznov/financinha/internal/api/handlers"
	"github.com/dvloznov/financinha/internal/app"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/jobs/inmemory"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Invalid configuration")
	}

	// Parse command-line flags
	var (
		port     = flag.String("port", cfg.Port, "HTTP server port (or set PORT)")
		logLevel = flag.String("log-level", cfg.LogLevel, "Log level (or set LOG_LEVEL)")
	)
	flag.Parse()

	log := logger.NewWithLevel(*logLevel)

	ctx := context.Background()
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.Close()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// The Notion mirror runs on the in-process job queue. Without Notion,
	// mutations only invalidate the summary cache.
	var (
		publisher jobs.Publisher = jobs.NopPublisher{}
		jobQueue  *inmemory.Queue
		jobStore  *inmemory.Store
	)
	if mirror := svc.NewMirror(); mirror != nil {
		jobStore = inmemory.NewStore()
		jobQueue = inmemory.NewQueue(100, jobStore)
		publisher = jobQueue

		go func() {
			log.Info().Msg("Starting Notion mirror worker")
			if err := jobQueue.Start(workerCtx, mirror.HandleJob); err != nil {
				log.Error().Err(err).Msg("Mirror worker stopped with error")
			}
		}()
	} else {
		log.Warn().Msg("NOTION_TOKEN not set - transactions will not be mirrored to Notion")
	}

	changes := handlers.NewChanges(svc.Cache, publisher, log)
	executor := assistant.NewExecutor(svc.Ledger, changes, publisher, log)
	sessions := assistant.NewSessions(svc.Assistant, executor, log, cfg.SessionIdleTimeout)

	go sweepSessions(workerCtx, sessions, cfg.SessionIdleTimeout, log)

	h := api.Handlers{
		Chat:         handlers.NewChatHandler(svc.Assistant, log),
		Sessions:     handlers.NewSessionsHandler(sessions, log),
		Transactions: handlers.NewTransactionsHandler(svc.Ledger, changes, log),
		Accounts:     handlers.NewAccountsHandler(svc.Ledger, changes, log),
		Summary:      handlers.NewSummaryHandler(svc.Cache, log),
	}
	if jobStore != nil {
		h.Jobs = handlers.NewJobsHandler(jobStore, log)
	}

	// Completion calls can take up to the configured timeout, so the write
	// timeout leaves room for one.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewRouter(h, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CompletionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight mirror runs
	cancelWorker()
	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
		if err := jobQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job queue")
		}
	}

	log.Info().Msg("Server exited")
}

// sweepSessions drops idle sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *assistant.Sessions, idle time.Duration, log zerolog.Logger) {
	interval := idle / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				log.Debug().Int("dropped", n).Int("open", sessions.Len()).Msg("Swept idle sessions")
			}
		}
	}
}
