// Package assistant turns a user's free-text message into one typed action:
// it builds a financial snapshot, composes the prompt, calls the completion
// service in JSON mode and parses the answer into a closed set of variants.
// Sessions stage proposals until the user confirms them, and the Executor
// applies confirmed proposals to the ledger.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/archive"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every completion call.
const DefaultTimeout = 30 * time.Second

// Assistant runs the snapshot, prompt, completion and parse pipeline.
type Assistant struct {
	ledger    LedgerReader
	completer Completer
	archive   archive.Archive
	log       zerolog.Logger
	timeout   time.Duration
	window    int
	today     func() civil.Date
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithArchive keeps every raw model output in a.
func WithArchive(a archive.Archive) Option {
	return func(as *Assistant) { as.archive = a }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithContextWindow sets how many prior turns accompany a message.
func WithContextWindow(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithToday sets the calendar source. Defaults to the local date.
func WithToday(today func() civil.Date) Option {
	return func(a *Assistant) { a.today = today }
}

// New creates an Assistant.
func New(l LedgerReader, c Completer, log zerolog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		ledger:    l,
		completer: c,
		log:       log,
		timeout:   DefaultTimeout,
		window:    DefaultContextWindow,
		today:     func() civil.Date { return civil.DateOf(time.Now()) },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window is the number of prior turns sent with each message.
func (a *Assistant) Window() int {
	return a.window
}

// Response is the outcome of one successful Respond call.
type Response struct {
	Action     Action
	Raw        string
	ArchiveURI string
}

// Respond answers message given the prior turns. Errors are one of
// *ConfigurationError, *UpstreamError, *InvalidResponseShapeError, or a
// store failure while reading the snapshot.
func (a *Assistant) Respond(ctx context.Context, userID, message string, history []Message) (*Response, error) {
	log := a.log.With().Str("user_id", userID).Logger()

	today := a.today()
	snap, err := BuildSnapshot(ctx, a.ledger, userID, today)
	if err != nil {
		return nil, fmt.Errorf("Respond: %w", err)
	}
	messages := BuildMessages(BuildSystemPrompt(snap, today), history, message, a.window)

	raw, err := a.complete(ctx, messages)
	if err != nil {
		var up *UpstreamError
		if errors.As(err, &up) {
			log.Error().Err(err).Int("status", up.StatusCode).Str("body", up.Body).Msg("completion failed")
		}
		return nil, err
	}

	action, parseErr := Parse(raw)
	if parseErr == nil {
		action, parseErr = checkReferences(action, snap, raw)
	}

	res := &Response{Action: action, Raw: raw}
	res.ArchiveURI = a.save(ctx, log, userID, message, raw, parseErr)

	if parseErr != nil {
		log.Warn().Err(parseErr).Str("raw", raw).Msg("model output rejected")
		return nil, parseErr
	}
	log.Debug().Str("tipo", string(action.Type())).Msg("model output parsed")
	return res, nil
}

func (a *Assistant) complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.completer.Complete(ctx, messages)
	if err == nil {
		return raw, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var up *UpstreamError
		if !errors.As(err, &up) {
			return "", &UpstreamError{Provider: "completion", Err: fmt.Errorf("timed out after %s: %w", a.timeout, err)}
		}
	}
	return "", asUpstream("completion", err)
}

// save archives the raw output. Failures are logged and otherwise ignored.
func (a *Assistant) save(ctx context.Context, log zerolog.Logger, userID, message, raw string, parseErr error) string {
	if a.archive == nil {
		return ""
	}
	e := &archive.Entry{UserID: userID, Message: message, RawOutput: raw}
	if parseErr != nil {
		e.ParseError = parseErr.Error()
	}
	uri, err := a.archive.Save(ctx, e)
	if err != nil {
		log.Warn().Err(err).Msg("archiving model output failed")
		return ""
	}
	return uri
}

// checkReferences rejects proposals naming accounts or cards the user does
// not own, and fills the card name of a payment when the model left it out.
func checkReferences(action Action, s *Snapshot, raw string) (Action, error) {
	accounts := make(map[string]bool, len(s.Accounts))
	for _, a := range s.Accounts {
		accounts[a.Account.ID] = true
	}
	cards := make(map[string]string, len(s.Cards))
	for _, c := range s.Cards {
		cards[c.Card.ID] = c.Card.Name
	}
	hasCard := func(id string) bool {
		_, ok := cards[id]
		return ok
	}

	switch v := action.(type) {
	case TransactionProposal:
		if v.AccountID != nil && !accounts[*v.AccountID] {
			return nil, shapeError(raw, "unknown account %q", *v.AccountID)
		}
		if v.CreditCardID != nil && !hasCard(*v.CreditCardID) {
			return nil, shapeError(raw, "unknown credit card %q", *v.CreditCardID)
		}
	case TransferProposal:
		if !accounts[v.FromAccountID] {
			return nil, shapeError(raw, "unknown account %q", v.FromAccountID)
		}
		if !accounts[v.ToAccountID] {
			return nil, shapeError(raw, "unknown account %q", v.ToAccountID)
		}
	case CardPaymentProposal:
		if !hasCard(v.CreditCardID) {
			return nil, shapeError(raw, "unknown credit card %q", v.CreditCardID)
		}
		if !accounts[v.FromAccountID] {
			return nil, shapeError(raw, "unknown account %q", v.FromAccountID)
		}
		if v.CardName == "" {
			v.CardName = cards[v.CreditCardID]
		}
		return v, nil
	}
	return action, nil
}
