// Package app builds the services shared by the binaries from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/financinha/internal/archive"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/notionsync"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/dvloznov/financinha/internal/store/bigquery"
	"github.com/dvloznov/financinha/internal/store/inmemory"
	"github.com/dvloznov/financinha/internal/store/postgres"
	"github.com/rs/zerolog"
)

// SummaryTTL bounds how stale a cached summary can get when some writer
// bypasses invalidation.
const SummaryTTL = 5 * time.Minute

// App holds the long-lived services.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     store.Store
	Ledger    *ledger.Ledger
	Cache     *ledger.SummaryCache
	Archive   archive.Archive
	Assistant *assistant.Assistant

	closers []func() error
}

// New opens the configured store and archive and builds the ledger and the
// assistant on top of them.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	s, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, closeStore)

	arch, closeArchive, err := OpenArchive(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Archive = arch
	a.closers = append(a.closers, closeArchive)

	a.Ledger = ledger.New(s, ledger.WithLocation(cfg.Location()))
	a.Cache = ledger.NewSummaryCache(a.Ledger, SummaryTTL)

	opts := []assistant.Option{
		assistant.WithTimeout(cfg.CompletionTimeout),
		assistant.WithContextWindow(cfg.ContextWindow),
		assistant.WithToday(a.Ledger.Today),
	}
	if arch != nil {
		opts = append(opts, assistant.WithArchive(arch))
	}
	a.Assistant = assistant.New(a.Ledger, NewCompleter(cfg), log, opts...)

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("completion", cfg.CompletionProvider).
		Bool("archive", arch != nil).
		Bool("notion", cfg.NotionEnabled()).
		Msg("Services ready")
	return a, nil
}

// Close releases the store and archive clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore connects the configured record store backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return inmemory.NewStore(), func() error { return nil }, nil
	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, s.Close, nil
	case config.BackendBigQuery:
		s, err := bigquery.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.StoreBackend)
}

// OpenArchive returns the GCS archive when a bucket is configured, or nil.
func OpenArchive(ctx context.Context, cfg *config.Config) (archive.Archive, func() error, error) {
	if cfg.ArchiveBucket == "" {
		return nil, func() error { return nil }, nil
	}
	g, err := archive.NewGCS(ctx, cfg.ArchiveBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("OpenArchive: %w", err)
	}
	return g, g.Close, nil
}

// NewCompleter returns the configured completion client. Missing keys are
// reported per request as configuration errors.
func NewCompleter(cfg *config.Config) assistant.Completer {
	if cfg.CompletionProvider == config.ProviderGemini {
		return assistant.NewGeminiCompleter(cfg.GeminiAPIKey, cfg.CompletionModel)
	}
	return assistant.NewOpenRouterCompleter(cfg.OpenRouterAPIKey, cfg.CompletionModel)
}

// NewMirror builds the Notion mirror, or returns nil when Notion is not
// configured.
func (a *App) NewMirror() *notionsync.Mirror {
	if !a.Config.NotionEnabled() {
		return nil
	}
	return notionsync.NewMirror(a.Ledger, notionsync.NewNotionClient(a.Config.NotionToken), a.Config.NotionDatabaseID)
}
