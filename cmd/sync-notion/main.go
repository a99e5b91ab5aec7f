package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/app"
	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/dvloznov/financinha/internal/notionsync"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Parse CLI flags
	userID := flag.String("user", "", "User whose transactions are mirrored (required)")
	startDateStr := flag.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDateStr := flag.String("end-date", "", "End date in YYYY-MM-DD format")
	notionToken := flag.String("notion-token", cfg.NotionToken, "Notion API token (or set NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", cfg.NotionDatabaseID, "Notion database ID (or set NOTION_DATABASE_ID)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	// Validate required flags
	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	opts, err := backfillOptions(*startDateStr, *endDateStr, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid date range")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("user_id", *userID).
		Str("start_date", *startDateStr).
		Str("end_date", *endDateStr).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion backfill")

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.Close()

	mirror := notionsync.NewMirror(svc.Ledger, notionsync.NewNotionClient(*notionToken), *notionDBID)
	res, err := mirror.Backfill(ctx, *userID, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Backfill failed")
	}

	fmt.Printf("Backfill completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Deleted, res.Failed)
}

// backfillOptions parses the optional date bounds. Either bound may be
// empty; when both are set the end may not precede the start.
func backfillOptions(start, end string, dryRun bool) (notionsync.BackfillOptions, error) {
	opts := notionsync.BackfillOptions{DryRun: dryRun}
	if start != "" {
		d, err := civil.ParseDate(start)
		if err != nil {
			return opts, fmt.Errorf("start-date: expected YYYY-MM-DD: %w", err)
		}
		opts.From = &d
	}
	if end != "" {
		d, err := civil.ParseDate(end)
		if err != nil {
			return opts, fmt.Errorf("end-date: expected YYYY-MM-DD: %w", err)
		}
		opts.To = &d
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return opts, fmt.Errorf("end-date must not be before start-date")
	}
	return opts, nil
}
