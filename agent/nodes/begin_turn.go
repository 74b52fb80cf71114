package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/rs/zerolog/log"
)

// BeginTurn appends the user message and commits it before any work, so a
// message is either durable or the turn is rejected.
func BeginTurn(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st := in.State
	if open := st.OpenTurn(); open != nil {
		log.Warn().
			Str("thread_id", in.ThreadID).
			Str("turn_id", open.ID).
			Str("phase", string(open.Phase)).
			Msg("abandoning interrupted turn")
		st.AbandonTurn("superseded by a new message", in.Now)
	}

	if err := st.BeginTurn(in.TurnID, in.UserText, in.CurrentDate, in.Now); err != nil {
		return nil, fmt.Errorf("%w: begin turn: %v", contractx.ErrValidation, err)
	}
	if err := SaveState(ctx, store, st, in.Now); err != nil {
		return nil, contractx.NewTurnError(err)
	}
	return in, nil
}
