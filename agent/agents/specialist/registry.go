package specialist

import (
	"context"
	"fmt"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	llmx "github.com/MLAN1O/atlas/agent/llm"
	promptx "github.com/MLAN1O/atlas/agent/prompt"
	openrouterx "github.com/MLAN1O/atlas/pkg/openrouter"
)

// Set holds the model-backed helpers used by the query and format_report capabilities.
type Set struct {
	Planner  contractx.SQLPlanner
	Reporter contractx.ReportFormatter
}

func NewSet(ctx context.Context, cfg llmx.Config, prompts promptx.PromptSet) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqlModelCfg := cfg.OpenRouterFor(llmx.RoleSQL)
	sqlModel, err := sqlModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create sql model: %v", contractx.ErrModelInvoke, err)
	}
	planner, err := newSQLPlanner(ctx, sqlModel, prompts.SQL)
	if err != nil {
		return nil, err
	}

	reportCfg := cfg.OpenRouterFor(llmx.RoleReport)
	reporter := NewReporter(openrouterx.NewClient(reportCfg), ReporterConfig{
		Model:       reportCfg.Model,
		Prompt:      prompts.Report,
		Temperature: float64(reportCfg.Temperature),
		MaxTokens:   int64(*reportCfg.MaxCompletionToken),
		Timeout:     reportCfg.Timeout,
	})

	return &Set{
		Planner:  planner,
		Reporter: reporter,
	}, nil
}
