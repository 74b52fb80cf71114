package contract

import "context"

// Reasoner decides the next step of a turn from the full conversation state.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) (Decision, error)
}

// SQLPlanner turns a natural-language question into one read-only statement.
type SQLPlanner interface {
	PlanSQL(ctx context.Context, req SQLPlanRequest) (SQLPlan, error)
}

type ReportFormatter interface {
	FormatReport(ctx context.Context, req ReportRequest) (string, error)
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error)
	Resume(ctx context.Context, threadID string) (TurnOutput, error)
}

type WriteNotifier interface {
	NotifyWrite(ctx context.Context, ev WriteEvent) error
}
