package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
)

func LoadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.ThreadID)
	switch {
	case err == nil:
		in.State = st
	case errors.Is(err, statex.ErrStateNotFound):
		in.State = statex.NewConversationState(in.ThreadID, in.Now)
	default:
		return nil, contractx.NewTurnError(fmt.Errorf("%w: load thread=%s: %w", contractx.ErrPersistence, in.ThreadID, err))
	}
	return in, nil
}

// LoadExistingState is the resume variant: the thread must already exist.
func LoadExistingState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.ThreadID)
	if errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("%w: thread=%s: %w", contractx.ErrValidation, in.ThreadID, err)
	}
	if err != nil {
		return nil, contractx.NewTurnError(fmt.Errorf("%w: load thread=%s: %w", contractx.ErrPersistence, in.ThreadID, err))
	}
	in.State = st
	return in, nil
}
