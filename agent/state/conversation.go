package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConversationState is the durable record of one thread.
// - Messages: append-only transcript (user, assistant actions/answers, tool observations)
// - Turn: the open (or last) turn and its position in the reasoning/dispatch loop
type ConversationState struct {
	ThreadID       string          `json:"thread_id"`
	Messages       []Message       `json:"messages,omitempty"`
	CurrentDate    string          `json:"current_date,omitempty"`
	PendingActions []ActionRequest `json:"pending_actions,omitempty"`
	Turn           *Turn           `json:"turn,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

type Phase string

const (
	PhaseReasoning   Phase = "REASONING"
	PhaseDispatching Phase = "DISPATCHING"
	PhaseDone        Phase = "DONE"
)

// ActionRequest is one capability call requested by the reasoning unit.
type ActionRequest struct {
	CallID     string         `json:"call_id"`
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args,omitempty"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`

	// assistant messages that requested capabilities
	Actions []ActionRequest `json:"actions,omitempty"`

	// tool observations
	CallID     string `json:"call_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Turn struct {
	ID          string    `json:"id"`
	UserText    string    `json:"user_text"`
	CurrentDate string    `json:"current_date"`
	Phase       Phase     `json:"phase"`
	Cycles      int       `json:"cycles"`
	Writes      int       `json:"writes"`
	Intent      string    `json:"intent,omitempty"`
	Answer      string    `json:"answer,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// WriteOutcome is the observation of the counted write of the turn.
	WriteOutcome string `json:"write_outcome,omitempty"`
	// QueryOutcome is the observation of the last successful query.
	QueryOutcome string `json:"query_outcome,omitempty"`
	// Report is the format_report output produced after the latest outcome.
	Report string `json:"report,omitempty"`
}

var (
	ErrTurnInProgress = errors.New("turn already in progress")
	ErrNoOpenTurn     = errors.New("no open turn")
	ErrInvalidPhase   = errors.New("invalid turn phase")
	ErrStateCorrupt   = errors.New("conversation state corrupt")
)

func NewConversationState(threadID string, now time.Time) *ConversationState {
	return &ConversationState{
		ThreadID:  threadID,
		Messages:  make([]Message, 0, 8),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Commit bumps the version before a save. Saving the same version twice is idempotent.
func (s *ConversationState) Commit(now time.Time) {
	s.Version++
	s.Touch(now)
}

func (t *Turn) IsOpen() bool {
	return t != nil && t.Phase != PhaseDone
}

// OpenTurn returns the turn that has not reached DONE yet (or nil).
func (s *ConversationState) OpenTurn() *Turn {
	if s == nil || !s.Turn.IsOpen() {
		return nil
	}
	return s.Turn
}

// BeginTurn appends the user message and pins current_date for the whole turn.
func (s *ConversationState) BeginTurn(turnID, userText, currentDate string, now time.Time) error {
	if s == nil {
		return errors.New("nil conversation state")
	}
	if s.OpenTurn() != nil {
		return fmt.Errorf("%w: turn=%s", ErrTurnInProgress, s.Turn.ID)
	}
	if strings.TrimSpace(turnID) == "" {
		return errors.New("turn id is empty")
	}

	s.Turn = &Turn{
		ID:          turnID,
		UserText:    userText,
		CurrentDate: currentDate,
		Phase:       PhaseReasoning,
		StartedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	s.CurrentDate = currentDate
	s.PendingActions = nil
	s.append(Message{Role: RoleUser, Content: userText}, now)
	return nil
}

// AbandonTurn closes an interrupted turn so a new one can start.
func (s *ConversationState) AbandonTurn(reason string, now time.Time) {
	t := s.OpenTurn()
	if t == nil {
		return
	}
	s.AppendSystem("turn "+t.ID+" interrupted: "+reason, now)
	t.Phase = PhaseDone
	t.Failure = reason
	t.UpdatedAt = now.UTC()
	s.PendingActions = nil
}

// RequestActions records the assistant's capability requests and moves the turn to DISPATCHING.
func (s *ConversationState) RequestActions(actions []ActionRequest, now time.Time) error {
	t := s.OpenTurn()
	if t == nil {
		return ErrNoOpenTurn
	}
	if t.Phase != PhaseReasoning {
		return fmt.Errorf("%w: request actions in phase=%s", ErrInvalidPhase, t.Phase)
	}
	if len(actions) == 0 {
		return errors.New("no actions requested")
	}

	copied := append([]ActionRequest(nil), actions...)
	s.append(Message{Role: RoleAssistant, Actions: copied}, now)
	s.PendingActions = copied
	t.Phase = PhaseDispatching
	t.UpdatedAt = now.UTC()
	return nil
}

// AppendObservation adds a capability result to the transcript.
func (s *ConversationState) AppendObservation(callID, capability, content string, failed bool, code string, now time.Time) {
	s.append(Message{
		Role:       RoleTool,
		Content:    content,
		CallID:     callID,
		Capability: capability,
		Failed:     failed,
		ErrorCode:  code,
	}, now)
}

func (s *ConversationState) AppendSystem(content string, now time.Time) {
	s.append(Message{Role: RoleSystem, Content: content}, now)
}

// CompleteCycle clears pending actions and returns the turn to REASONING.
func (s *ConversationState) CompleteCycle(writes int, now time.Time) error {
	t := s.OpenTurn()
	if t == nil {
		return ErrNoOpenTurn
	}
	if t.Phase != PhaseDispatching {
		return fmt.Errorf("%w: complete cycle in phase=%s", ErrInvalidPhase, t.Phase)
	}
	s.PendingActions = nil
	t.Cycles++
	t.Writes += writes
	t.Phase = PhaseReasoning
	t.UpdatedAt = now.UTC()
	return nil
}

// CloseTurn appends the final answer and marks the turn DONE.
func (s *ConversationState) CloseTurn(answer, failure string, now time.Time) error {
	t := s.OpenTurn()
	if t == nil {
		return ErrNoOpenTurn
	}
	s.append(Message{Role: RoleAssistant, Content: answer}, now)
	s.PendingActions = nil
	t.Phase = PhaseDone
	t.Answer = answer
	t.Failure = failure
	t.UpdatedAt = now.UTC()
	return nil
}

// TurnMessages returns the messages that belong to the current (or last) turn.
func (s *ConversationState) TurnMessages() []Message {
	if s == nil || s.Turn == nil {
		return nil
	}
	for i, m := range s.Messages {
		if m.TurnID == s.Turn.ID {
			return s.Messages[i:]
		}
	}
	return nil
}

func (s *ConversationState) append(m Message, now time.Time) {
	if s.Turn != nil && m.TurnID == "" {
		m.TurnID = s.Turn.ID
	}
	m.CreatedAt = now.UTC()
	s.Messages = append(s.Messages, m)
	s.Touch(now)
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilConversationState
	}
	if strings.TrimSpace(s.ThreadID) == "" {
		return ErrInvalidThread
	}
	t := s.Turn
	if t == nil {
		if len(s.PendingActions) > 0 {
			return fmt.Errorf("%w: pending actions without turn", ErrStateCorrupt)
		}
		return nil
	}
	switch t.Phase {
	case PhaseReasoning, PhaseDone:
		if len(s.PendingActions) > 0 {
			return fmt.Errorf("%w: pending actions in phase=%s", ErrStateCorrupt, t.Phase)
		}
	case PhaseDispatching:
		if len(s.PendingActions) == 0 {
			return fmt.Errorf("%w: dispatching without pending actions", ErrStateCorrupt)
		}
	default:
		return fmt.Errorf("%w: phase=%q", ErrInvalidPhase, t.Phase)
	}
	if t.IsOpen() && s.CurrentDate != t.CurrentDate {
		return fmt.Errorf("%w: current_date changed mid-turn", ErrStateCorrupt)
	}
	return nil
}

// Clone returns a deep copy through the JSON representation.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("clone conversation state: %v", err))
	}
	var out ConversationState
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("clone conversation state: %v", err))
	}
	return &out
}
