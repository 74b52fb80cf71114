package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type sqlPlanOutput struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

type sqlPlanner struct {
	runner compose.Runnable[contractx.SQLPlanRequest, sqlPlanOutput]
}

var _ contractx.SQLPlanner = (*sqlPlanner)(nil)

func newSQLPlanner(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*sqlPlanner, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: sql prompt", contractx.ErrPromptMissing)
	}
	runner, err := compileSQLPlanGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile sql plan graph: %v", contractx.ErrModelInvoke, err)
	}
	return &sqlPlanner{runner: runner}, nil
}

func (p *sqlPlanner) PlanSQL(ctx context.Context, req contractx.SQLPlanRequest) (contractx.SQLPlan, error) {
	if strings.TrimSpace(req.Question) == "" {
		return contractx.SQLPlan{}, fmt.Errorf("%w: question is required", contractx.ErrValidation)
	}

	out, err := p.runner.Invoke(ctx, req)
	if err != nil {
		return contractx.SQLPlan{}, fmt.Errorf("%w: sql plan invoke: %v", contractx.ErrModelInvoke, err)
	}

	sql := strings.TrimSpace(out.SQL)
	if sql == "" {
		return contractx.SQLPlan{}, fmt.Errorf("%w: sql plan is empty", contractx.ErrSchemaViolation)
	}
	return contractx.SQLPlan{
		SQL:         sql,
		Explanation: strings.TrimSpace(out.Explanation),
	}, nil
}

// stripCodeFences removes a ```json fence some models wrap around JSON output.
func stripCodeFences(_ context.Context, msg *schema.Message) (*schema.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "```") {
		return msg, nil
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	cp := *msg
	cp.Content = strings.TrimSpace(content)
	return &cp, nil
}
