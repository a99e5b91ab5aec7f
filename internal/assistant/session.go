package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/dvloznov/financinha/internal/ledger"
	"github.com/rs/zerolog"
)

// Conversation texts.
const (
	Greeting = "Olá! Me conte o que você gastou ou recebeu. Ex: \"gastei 25 em pizza\""

	msgUpstreamError    = "Ops, houve um erro ao processar. Tente novamente."
	msgInvalidShape     = "Desculpe, não consegui entender. Tente novamente."
	msgNotConfigured    = "O assistente não está configurado no momento."
	msgTransactionSaved = "Transação salva com sucesso!"
	msgTransferSaved    = "Transferência realizada com sucesso!"
	msgCardPaymentSaved = "Pagamento da fatura registrado com sucesso!"
	msgSaveFailed       = "Erro ao salvar a transação."
	msgPartialTransfer  = "A transferência ficou incompleta. Confira suas transações antes de tentar de novo."
)

// State is the position of a Session in the conversation.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StatePendingConfirmation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StatePendingConfirmation:
		return "pending_confirmation"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Responder produces the assistant's answer to one message.
type Responder interface {
	Respond(ctx context.Context, userID, message string, history []Message) (*Response, error)
}

// ProposalExecutor applies a confirmed proposal.
type ProposalExecutor interface {
	Execute(ctx context.Context, userID string, p Proposal) ([]*domain.Transaction, error)
}

// Outcome reports what one Send, Confirm or Cancel call did.
type Outcome struct {
	// Ignored is set when the gate rejected the call. Nothing changed.
	Ignored bool
	// Turns are the turns appended by this call.
	Turns   []Message
	Action  Action
	Created []*domain.Transaction
	State   State
	// Err is the failure rendered into the last turn, if any.
	Err error
}

// Session is one conversation. Turns live only as long as the session.
type Session struct {
	ID     string
	UserID string

	responder Responder
	executor  ProposalExecutor
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      State
	busy       bool
	turns      []Message
	pending    Proposal
	lastActive time.Time
}

// NewSession creates an idle session for userID.
func NewSession(id, userID string, r Responder, x ProposalExecutor, log zerolog.Logger) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		responder:  r,
		executor:   x,
		log:        log.With().Str("session_id", id).Str("user_id", userID).Logger(),
		now:        time.Now,
		lastActive: time.Now(),
	}
}

// InputEnabled reports whether free text is accepted right now.
func (s *Session) InputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputEnabled()
}

func (s *Session) inputEnabled() bool {
	return s.state == StateIdle && !s.busy
}

// Send submits a user message. It is ignored while the gate is closed or
// when text is blank; otherwise exactly one completion request is made.
func (s *Session) Send(ctx context.Context, text string) Outcome {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if text == "" || !s.inputEnabled() {
		st := s.state
		s.mu.Unlock()
		return Outcome{Ignored: true, State: st}
	}
	history := append([]Message(nil), s.turns...)
	user := Message{Role: RoleUser, Content: text}
	s.turns = append(s.turns, user)
	s.state = StateAwaitingModel
	s.touch()
	s.mu.Unlock()

	resp, err := s.responder.Respond(ctx, s.UserID, text, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	out := Outcome{Turns: []Message{user}}
	if err != nil {
		s.log.Warn().Err(err).Msg("assistant turn failed")
		turn := Message{Role: RoleAssistant, Content: errorText(err)}
		s.turns = append(s.turns, turn)
		s.state = StateIdle
		out.Turns = append(out.Turns, turn)
		out.Err = err
		out.State = s.state
		return out
	}

	turn := Message{Role: RoleAssistant, Content: resp.Action.Text()}
	s.turns = append(s.turns, turn)
	if p, ok := resp.Action.(Proposal); ok {
		s.pending = p
		s.state = StatePendingConfirmation
	} else {
		s.state = StateIdle
	}
	out.Turns = append(out.Turns, turn)
	out.Action = resp.Action
	out.State = s.state
	return out
}

// Confirm executes the pending proposal. The pending proposal is cleared
// whether or not the write succeeds.
func (s *Session) Confirm(ctx context.Context) Outcome {
	s.mu.Lock()
	if s.state != StatePendingConfirmation || s.busy {
		st := s.state
		s.mu.Unlock()
		return Outcome{Ignored: true, State: st}
	}
	p := s.pending
	s.busy = true
	s.touch()
	s.mu.Unlock()

	created, err := s.executor.Execute(ctx, s.UserID, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.pending = nil
	s.state = StateIdle
	s.touch()

	var turn Message
	if err != nil {
		s.log.Error().Err(err).Str("tipo", string(p.Type())).Msg("executing proposal failed")
		turn = Message{Role: RoleAssistant, Content: saveErrorText(err)}
	} else {
		turn = Message{Role: RoleAssistant, Content: savedText(p)}
	}
	s.turns = append(s.turns, turn)
	return Outcome{Turns: []Message{turn}, Action: p, Created: created, State: s.state, Err: err}
}

// Cancel discards the pending proposal without any write.
func (s *Session) Cancel() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePendingConfirmation || s.busy {
		return Outcome{Ignored: true, State: s.state}
	}
	s.pending = nil
	s.state = StateIdle
	s.touch()
	return Outcome{State: s.state}
}

// View is a point-in-time copy of a session.
type View struct {
	ID           string     `json:"id"`
	State        State      `json:"state"`
	InputEnabled bool       `json:"input_enabled"`
	Greeting     string     `json:"greeting"`
	Turns        []Message  `json:"turns"`
	Pending      ActionJSON `json:"pending"`
}

// View returns the current state. The greeting is not part of the turns.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:           s.ID,
		State:        s.state,
		InputEnabled: s.inputEnabled(),
		Greeting:     Greeting,
		Turns:        append([]Message{}, s.turns...),
	}
	if s.pending != nil {
		v.Pending = ActionJSON{Action: s.pending}
	}
	return v
}

// Pending returns the staged proposal, if any.
func (s *Session) Pending() Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) touch() {
	s.lastActive = s.now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func errorText(err error) string {
	var cfg *ConfigurationError
	switch {
	case errors.As(err, &cfg):
		return msgNotConfigured
	case errors.Is(err, ErrInvalidResponseShape):
		return msgInvalidShape
	}
	return msgUpstreamError
}

func saveErrorText(err error) string {
	if ledger.IsPartialTransfer(err) {
		return msgPartialTransfer
	}
	return msgSaveFailed
}

func savedText(p Proposal) string {
	switch p.(type) {
	case TransferProposal:
		return msgTransferSaved
	case CardPaymentProposal:
		return msgCardPaymentSaved
	}
	return msgTransactionSaved
}
