package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/financinha/internal/app"
	"github.com/dvloznov/financinha/internal/archive"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/config"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/jobs"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/dvloznov/financinha/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(log)
	case "summary":
		runSummary(log)
	case "inspect-output":
		runInspectOutput(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Financinha CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  chat            Talk to the assistant in the terminal")
	fmt.Println("  summary         Print account balances and card bills")
	fmt.Println("  inspect-output  Show an archived raw model output")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func loadServices(log zerolog.Logger) (*app.App, context.Context) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn().Msg("STORE_BACKEND is memory - nothing is kept after exit")
	}

	ctx := logger.WithContext(context.Background(), log)
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return svc, ctx
}

func runChat(log zerolog.Logger) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	userID := fs.String("user", "", "User ID to act as")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	// Keep the interactive output readable.
	log = log.Level(zerolog.WarnLevel)
	svc, ctx := loadServices(log)
	defer svc.Close()

	executor := assistant.NewExecutor(svc.Ledger, svc.Cache, jobs.NopPublisher{}, log)
	session := assistant.NewSession(uuid.New().String(), *userID, svc.Assistant, executor, log)

	if err := chatLoop(ctx, session, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Chat failed")
	}
}

// chatLoop reads one line per turn. While a proposal is pending only "sim"
// and "não" are accepted; "/sair" ends the conversation.
func chatLoop(ctx context.Context, s *assistant.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Financinha: %s\n", assistant.Greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/sair" {
			return nil
		}

		if s.State() == assistant.StatePendingConfirmation {
			switch strings.ToLower(line) {
			case "sim", "s":
				printTurns(out, s.Confirm(ctx))
			case "não", "nao", "n":
				s.Cancel()
				fmt.Fprintln(out, "Financinha: Cancelado.")
			default:
				fmt.Fprintln(out, "Responda 'sim' para confirmar ou 'não' para cancelar.")
			}
			continue
		}

		o := s.Send(ctx, line)
		printTurns(out, o)
		if o.State == assistant.StatePendingConfirmation {
			fmt.Fprintln(out, "(sim/não)")
		}
	}
}

func printTurns(out io.Writer, o assistant.Outcome) {
	for _, t := range o.Turns {
		if t.Role == assistant.RoleAssistant {
			fmt.Fprintf(out, "Financinha: %s\n", t.Content)
		}
	}
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	asJSON := fs.Bool("json", false, "Print JSON instead of text")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	svc, ctx := loadServices(log)
	defer svc.Close()

	summary, err := svc.Ledger.Summarize(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load summary")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode summary")
		}
		return
	}
	printSummary(os.Stdout, summary)
}

func printSummary(out io.Writer, s *ledger.Summary) {
	fmt.Fprintf(out, "\n=== Contas (%d) ===\n", len(s.Accounts))
	for _, a := range s.Accounts {
		fmt.Fprintf(out, "%-24s %-14s %s\n", a.Account.Name, a.Account.Type, domain.FormatBRL(a.Balance))
	}
	fmt.Fprintf(out, "Saldo total: %s\n", domain.FormatBRL(s.TotalBalance))

	fmt.Fprintf(out, "\n=== Cartões (%d) ===\n", len(s.Cards))
	for _, c := range s.Cards {
		fmt.Fprintf(out, "%-24s fatura %s  disponível %s\n", c.Card.Name, domain.FormatBRL(c.Bill), domain.FormatBRL(c.Available))
	}
	fmt.Fprintf(out, "Fatura total: %s\n\n", domain.FormatBRL(s.TotalBills))
}

func runInspectOutput(log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect-output", flag.ExitOnError)
	uri := fs.String("uri", "", "Archive URI (gs://bucket/model-outputs/...)")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: --uri is required")
	}
	bucket, _, err := archive.ParseGCSURI(*uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid URI")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	g, err := archive.NewGCS(ctx, bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer g.Close()

	e, err := g.Fetch(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch output")
	}
	printEntry(os.Stdout, e)
}

func printEntry(out io.Writer, e *archive.Entry) {
	fmt.Fprintln(out, "\n=== Model Output ===")
	fmt.Fprintf(out, "ID:      %s\n", e.ID)
	fmt.Fprintf(out, "User ID: %s\n", e.UserID)
	fmt.Fprintf(out, "Created: %s\n", e.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Message: %s\n", e.Message)
	if e.ParseError != "" {
		fmt.Fprintf(out, "Error:   %s\n", e.ParseError)
	}

	fmt.Fprintln(out, "\n--- Raw ---")
	fmt.Fprintln(out, e.RawOutput)

	if _, err := assistant.Parse(e.RawOutput); err == nil {
		fmt.Fprintln(out, "\n(parses today)")
	}
	fmt.Fprintln(out)
}
