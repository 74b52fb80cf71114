package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
)

// SaveState commits a new version of the conversation and stores it.
func SaveState(ctx context.Context, store statex.Store, st *statex.ConversationState, now time.Time) error {
	st.Commit(now)
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: state validation failed: %w", contractx.ErrPersistence, err)
	}
	if err := store.Save(ctx, st); err != nil {
		return fmt.Errorf("%w: save thread=%s: %w", contractx.ErrPersistence, st.ThreadID, err)
	}
	return nil
}
