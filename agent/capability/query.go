package capability

import (
	"context"
	"errors"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type QueryRunner interface {
	Query(ctx context.Context, statement string) ([]map[string]any, error)
}

type QueryResult struct {
	SQL      string           `json:"sql"`
	RowCount int              `json:"row_count"`
	Rows     []map[string]any `json:"rows"`
}

// Query answers read questions through the SQL planner and a read-only runner.
type Query struct {
	planner contractx.SQLPlanner
	runner  QueryRunner
	schema  string
}

func NewQuery(planner contractx.SQLPlanner, runner QueryRunner, schemaDescription string) (*Query, error) {
	if planner == nil || runner == nil {
		return nil, errors.New("query capability needs a planner and a runner")
	}
	return &Query{planner: planner, runner: runner, schema: schemaDescription}, nil
}

func (q *Query) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameQuery,
		Description: "Answer a read-only question about the business data (costs, sales, slaughters). Never modifies data.",
		Kind:        contractx.KindRead,
		Intent:      contractx.IntentQuery,
		Fields: []contractx.FieldSpec{
			{Name: "question", Type: contractx.FieldString, Required: true, Description: "The question in natural language"},
		},
	}
}

func (q *Query) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	req := inv.Request
	plan, err := q.planner.PlanSQL(ctx, contractx.SQLPlanRequest{
		Question:    stringArg(inv.Args(), "question"),
		Schema:      q.schema,
		CurrentDate: inv.CurrentDate,
	})
	if err != nil {
		return contractx.Failed(req, execError("plan sql", err))
	}

	rows, err := q.runner.Query(ctx, plan.SQL)
	if err != nil {
		return contractx.FailedWithPayload(req, execError("run sql", err), map[string]any{"sql": plan.SQL})
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return contractx.Succeeded(req, QueryResult{SQL: plan.SQL, RowCount: len(rows), Rows: rows})
}
