package orchestratornode

import (
	"fmt"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
)

// PrepareResume picks up the open turn of a thread at its last committed phase.
func PrepareResume(in *GraphState) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	t := in.State.OpenTurn()
	if t == nil {
		return nil, fmt.Errorf("%w: thread=%s: %w", contractx.ErrValidation, in.ThreadID, statex.ErrNoOpenTurn)
	}
	in.TurnID = t.ID
	in.UserText = t.UserText
	in.CurrentDate = t.CurrentDate
	return in, nil
}
