package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/shopspring/decimal"
)

const (
	categoryWindow   = 200
	topCategoryCount = 8
	recentCount      = 10
)

// ignoredCategories are never offered to the model as reusable labels.
var ignoredCategories = map[string]bool{
	"":                         true,
	"NULL":                     true,
	"UNDEFINED":                true,
	"OUTROS":                   true,
	domain.CategoryTransfer:    true,
	domain.CategoryCardPayment: true,
}

// LedgerReader is the read side of the ledger used to build a snapshot.
type LedgerReader interface {
	ListTransactions(ctx context.Context, userID string, f ledger.TransactionFilter) ([]*domain.Transaction, error)
	ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error)
	ListCreditCards(ctx context.Context, userID string) ([]*domain.CreditCard, error)
}

// PeriodTotals aggregates one calendar month.
type PeriodTotals struct {
	Inflow      decimal.Decimal
	Outflow     decimal.Decimal
	CashOutflow decimal.Decimal
}

// CategoryTotal is the outflow of one category.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// Snapshot is the per-request view of a user's finances given to the model.
type Snapshot struct {
	Today         civil.Date
	Categories    []string
	CurrentMonth  PeriodTotals
	PreviousMonth PeriodTotals
	TopCategories []CategoryTotal
	Last7Days     decimal.Decimal
	TodayOutflow  decimal.Decimal
	Accounts      []ledger.AccountBalance
	Cards         []ledger.CardBill
	Recent        []*domain.Transaction
}

// BuildSnapshot reads the user's ledger and derives the snapshot for today.
// Transfers between the user's own accounts are left out of every total.
func BuildSnapshot(ctx context.Context, r LedgerReader, userID string, today civil.Date) (*Snapshot, error) {
	txs, err := r.ListTransactions(ctx, userID, ledger.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("BuildSnapshot: transactions: %w", err)
	}
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("BuildSnapshot: accounts: %w", err)
	}
	cards, err := r.ListCreditCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("BuildSnapshot: cards: %w", err)
	}

	s := &Snapshot{
		Today:         today,
		Categories:    knownCategories(txs),
		CurrentMonth:  zeroTotals(),
		PreviousMonth: zeroTotals(),
		Last7Days:     decimal.Zero,
		TodayOutflow:  decimal.Zero,
		Accounts:      ledger.ComputeBalances(accounts, txs),
		Cards:         ledger.ComputeBills(cards, txs),
	}

	monthStart := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	prevStart := previousMonth(today)
	weekStart := today.AddDays(-6)
	byCategory := make(map[string]decimal.Decimal)

	for _, tx := range txs {
		if tx.Category == domain.CategoryTransfer {
			continue
		}
		switch {
		case !tx.Date.Before(monthStart) && !tx.Date.After(today):
			addTotals(&s.CurrentMonth, tx)
			if tx.Direction == domain.Outflow {
				byCategory[tx.Category] = byCategory[tx.Category].Add(tx.Amount)
			}
		case !tx.Date.Before(prevStart) && tx.Date.Before(monthStart):
			addTotals(&s.PreviousMonth, tx)
		}
		if tx.Direction != domain.Outflow || tx.Date.After(today) {
			continue
		}
		if !tx.Date.Before(weekStart) {
			s.Last7Days = s.Last7Days.Add(tx.Amount)
		}
		if tx.Date == today {
			s.TodayOutflow = s.TodayOutflow.Add(tx.Amount)
		}
	}

	for cat, total := range byCategory {
		s.TopCategories = append(s.TopCategories, CategoryTotal{Category: cat, Total: total})
	}
	sort.Slice(s.TopCategories, func(i, j int) bool {
		a, b := s.TopCategories[i], s.TopCategories[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})
	if len(s.TopCategories) > topCategoryCount {
		s.TopCategories = s.TopCategories[:topCategoryCount]
	}

	if len(txs) > recentCount {
		s.Recent = txs[:recentCount]
	} else {
		s.Recent = txs
	}
	return s, nil
}

// previousMonth is the first day of the month before d's.
func previousMonth(d civil.Date) civil.Date {
	if d.Month == time.January {
		return civil.Date{Year: d.Year - 1, Month: time.December, Day: 1}
	}
	return civil.Date{Year: d.Year, Month: d.Month - 1, Day: 1}
}

func zeroTotals() PeriodTotals {
	return PeriodTotals{Inflow: decimal.Zero, Outflow: decimal.Zero, CashOutflow: decimal.Zero}
}

func addTotals(p *PeriodTotals, tx *domain.Transaction) {
	if tx.Direction == domain.Inflow {
		p.Inflow = p.Inflow.Add(tx.Amount)
		return
	}
	p.Outflow = p.Outflow.Add(tx.Amount)
	if tx.AffectsCash {
		p.CashOutflow = p.CashOutflow.Add(tx.Amount)
	}
}

// knownCategories collects the distinct categories of the newest transactions.
func knownCategories(txs []*domain.Transaction) []string {
	if len(txs) > categoryWindow {
		txs = txs[:categoryWindow]
	}
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		cat := domain.NormalizeCategory(tx.Category)
		if ignoredCategories[cat] || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

var monthNames = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

func monthName(m time.Month) string {
	return monthNames[m-1]
}

func formatDate(d civil.Date) string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year)
}

// Text renders the snapshot as the prompt's financial summary.
func (s *Snapshot) Text() string {
	var b strings.Builder
	prev := previousMonth(s.Today)

	fmt.Fprintf(&b, "Mês atual (%s/%d):\n", monthName(s.Today.Month), s.Today.Year)
	writeTotals(&b, s.CurrentMonth)
	fmt.Fprintf(&b, "Mês anterior (%s/%d):\n", monthName(prev.Month), prev.Year)
	writeTotals(&b, s.PreviousMonth)

	if len(s.TopCategories) > 0 {
		b.WriteString("Gastos por categoria no mês atual:\n")
		for _, c := range s.TopCategories {
			fmt.Fprintf(&b, "- %s: %s\n", c.Category, domain.FormatBRL(c.Total))
		}
	}

	fmt.Fprintf(&b, "Gastos nos últimos 7 dias: %s\n", domain.FormatBRL(s.Last7Days))
	fmt.Fprintf(&b, "Gastos hoje: %s\n", domain.FormatBRL(s.TodayOutflow))

	if len(s.Accounts) > 0 {
		b.WriteString("Saldos das contas:\n")
		for _, a := range s.Accounts {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.Account.Name, a.Account.Type, domain.FormatBRL(a.Balance))
		}
	}
	if len(s.Cards) > 0 {
		b.WriteString("Faturas dos cartões:\n")
		for _, c := range s.Cards {
			fmt.Fprintf(&b, "- %s: fatura %s de limite %s\n", c.Card.Name, domain.FormatBRL(c.Bill), domain.FormatBRL(c.Card.Limit))
		}
	}

	if len(s.Recent) > 0 {
		b.WriteString("Últimas transações:\n")
		for _, tx := range s.Recent {
			fmt.Fprintf(&b, "- %s %s %s %s [%s]\n",
				formatDate(tx.Date), tx.Description, tx.Direction, domain.FormatBRL(tx.Amount), tx.Category)
		}
	}
	return b.String()
}

func writeTotals(b *strings.Builder, p PeriodTotals) {
	fmt.Fprintf(b, "- Entradas: %s\n", domain.FormatBRL(p.Inflow))
	fmt.Fprintf(b, "- Saídas: %s\n", domain.FormatBRL(p.Outflow))
	fmt.Fprintf(b, "- Saídas que afetam o caixa: %s\n", domain.FormatBRL(p.CashOutflow))
}
