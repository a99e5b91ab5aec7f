// Package notionsync mirrors ledger transactions into a Notion database. The
// ledger stays the source of truth; pages are keyed by the "Transaction ID"
// property and rewritten or archived to follow it.
package notionsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/jomei/notionapi"
)

const (
	// BatchSize defines the number of transactions to process in a single batch
	BatchSize = 100
)

// TransactionSource reads ledger transactions.
type TransactionSource interface {
	ListTransactions(ctx context.Context, userID string, f ledger.TransactionFilter) ([]*domain.Transaction, error)
}

// Result counts what a mirror run did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Mirror writes ledger transactions to one Notion database.
type Mirror struct {
	source     TransactionSource
	notion     NotionService
	databaseID string
}

// NewMirror creates a Mirror.
func NewMirror(source TransactionSource, notion NotionService, databaseID string) *Mirror {
	return &Mirror{source: source, notion: notion, databaseID: databaseID}
}

// HandleJob is a jobs.JobHandler for mirror jobs.
func (m *Mirror) HandleJob(ctx context.Context, job jobs.Job) error {
	mj, ok := job.(*jobs.MirrorTransactionsJob)
	if !ok {
		return fmt.Errorf("HandleJob: unexpected job type: %T", job)
	}
	res, err := m.MirrorTransactions(ctx, mj.UserID, mj.TransactionIDs)
	if err != nil {
		return fmt.Errorf("HandleJob: %w", err)
	}
	if res.Failed > 0 {
		return fmt.Errorf("HandleJob: %d of %d transactions failed", res.Failed, len(mj.TransactionIDs))
	}
	return nil
}

// MirrorTransactions brings the pages of the given transactions in line with
// the ledger: existing rows are created or updated, rows that no longer exist
// have their page archived.
func (m *Mirror) MirrorTransactions(ctx context.Context, userID string, ids []string) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("user_id", userID).Logger()
	res := &Result{}
	if len(ids) == 0 {
		return res, nil
	}

	txs, err := m.source.ListTransactions(ctx, userID, ledger.TransactionFilter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("MirrorTransactions: %w", err)
	}
	byID := make(map[string]*domain.Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}

	for _, id := range ids {
		pages, err := m.queryPages(ctx, &notionapi.PropertyFilter{
			Property: PropTransactionID,
			RichText: &notionapi.TextFilterCondition{Equals: id},
		})
		if err != nil {
			return nil, fmt.Errorf("MirrorTransactions: %w", err)
		}

		tx, exists := byID[id]
		switch {
		case exists && len(pages) > 0:
			if _, err := m.notion.UpdatePage(ctx, string(pages[0].ID), TransactionToNotionProperties(tx)); err != nil {
				log.Warn().Err(err).Str("transaction_id", id).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
		case exists:
			if _, err := m.notion.CreatePage(ctx, m.databaseID, TransactionToNotionProperties(tx)); err != nil {
				log.Warn().Err(err).Str("transaction_id", id).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			res.Created++
		default:
			for _, p := range pages {
				if err := m.notion.ArchivePage(ctx, string(p.ID)); err != nil {
					log.Warn().Err(err).Str("transaction_id", id).Msg("Failed to archive Notion page")
					res.Failed++
					continue
				}
				res.Deleted++
			}
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Msg("Mirrored transactions to Notion")
	return res, nil
}

// BackfillOptions narrows a Backfill run.
type BackfillOptions struct {
	From   *civil.Date
	To     *civil.Date
	DryRun bool
}

// Backfill mirrors every transaction of userID in the date range. Without a
// range, pages of the user whose transaction no longer exists are archived.
func (m *Mirror) Backfill(ctx context.Context, userID string, opts BackfillOptions) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("user_id", userID).Bool("dry_run", opts.DryRun).Logger()

	txs, err := m.source.ListTransactions(ctx, userID, ledger.TransactionFilter{From: opts.From, To: opts.To})
	if err != nil {
		return nil, fmt.Errorf("Backfill: %w", err)
	}
	log.Info().Int("transaction_count", len(txs)).Msg("Retrieved transactions from ledger")

	pages, err := m.queryPages(ctx, &notionapi.PropertyFilter{
		Property: PropUserID,
		RichText: &notionapi.TextFilterCondition{Equals: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("Backfill: %w", err)
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	pageByTx := make(map[string]string, len(pages))
	for _, p := range pages {
		if id := extractTransactionID(p); id != "" {
			pageByTx[id] = string(p.ID)
		}
	}

	res := &Result{}
	if opts.From == nil && opts.To == nil {
		valid := make(map[string]bool, len(txs))
		for _, tx := range txs {
			valid[tx.ID] = true
		}
		for _, p := range pages {
			txID := extractTransactionID(p)
			if valid[txID] {
				continue
			}
			if !opts.DryRun {
				if err := m.notion.ArchivePage(ctx, string(p.ID)); err != nil {
					log.Warn().Err(err).Str("page_id", string(p.ID)).Msg("Failed to delete stale Notion page")
					res.Failed++
					continue
				}
			}
			res.Deleted++
		}
	}

	for i := 0; i < len(txs); i += BatchSize {
		end := i + BatchSize
		if end > len(txs) {
			end = len(txs)
		}
		log.Debug().Int("batch_start", i).Int("batch_end", end).Msg("Processing batch")

		for _, tx := range txs[i:end] {
			pageID, exists := pageByTx[tx.ID]
			if opts.DryRun {
				if exists {
					res.Updated++
				} else {
					res.Created++
				}
				continue
			}

			props := TransactionToNotionProperties(tx)
			if exists {
				if _, err := m.notion.UpdatePage(ctx, pageID, props); err != nil {
					log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to update Notion page")
					res.Failed++
					continue
				}
				res.Updated++
				continue
			}
			if _, err := m.notion.CreatePage(ctx, m.databaseID, props); err != nil {
				log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			res.Created++
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Msg("Backfill completed")
	return res, nil
}

// queryPages returns every page matching filter, following pagination.
func (m *Mirror) queryPages(ctx context.Context, filter notionapi.Filter) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter:   filter,
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := m.notion.QueryDatabase(ctx, m.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}
