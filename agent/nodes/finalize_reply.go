package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	metricsx "github.com/MLAN1O/atlas/pkg/metrics"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.State == nil || in.State.Turn == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Answer)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: turn finished without an answer", contractx.ErrValidation)
	}

	t := in.State.Turn
	outcome := "ok"
	if in.Code != "" {
		outcome = string(in.Code)
	}
	metricsx.ObserveTurn(outcome, t.Cycles)

	return GraphOutput{
		Output: contractx.TurnOutput{
			ThreadID: in.ThreadID,
			TurnID:   t.ID,
			Answer:   reply,
			Intent:   contractx.Intent(t.Intent),
			Cycles:   t.Cycles,
			Code:     in.Code,
		},
		Failure: in.Failure,
	}, nil
}
