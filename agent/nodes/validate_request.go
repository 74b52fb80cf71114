package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidThread  = fmt.Errorf("%w: thread id is empty", contractx.ErrValidation)
	ErrInvalidDate    = fmt.Errorf("%w: current_date must be YYYY-MM-DD", contractx.ErrValidation)
)

type GraphInput struct {
	ThreadID    string
	UserText    string
	CurrentDate string
}

type ResumeInput struct {
	ThreadID string
}

// GraphOutput carries the answer and, for turn-level failures that still
// produced an answer, the *contract.TurnError.
type GraphOutput struct {
	Output  contractx.TurnOutput
	Failure error
}

type GraphState struct {
	ThreadID    string
	TurnID      string
	UserText    string
	CurrentDate string
	Now         time.Time
	Resumed     bool

	State *statex.ConversationState

	Answer  string
	Code    contractx.ErrorCode
	Failure error
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}
	text := strings.TrimSpace(in.UserText)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	now := nowFn()
	date := strings.TrimSpace(in.CurrentDate)
	if date == "" {
		date = now.Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidDate, date)
	}

	return &GraphState{
		ThreadID:    threadID,
		TurnID:      uuid.NewString(),
		UserText:    text,
		CurrentDate: date,
		Now:         now.UTC(),
	}, nil
}

func ValidateResume(in ResumeInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}
	return &GraphState{
		ThreadID: threadID,
		Now:      nowFn().UTC(),
		Resumed:  true,
	}, nil
}
