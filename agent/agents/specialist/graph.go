package specialist

import (
	"context"
	"encoding/json"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

// compileSQLPlanGraph wires request -> prompt -> model -> fence strip -> JSON plan.
func compileSQLPlanGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[contractx.SQLPlanRequest, sqlPlanOutput], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)
	parser := schema.NewMessageJSONParser[sqlPlanOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[contractx.SQLPlanRequest, sqlPlanOutput]()
	if err := graph.AddLambdaNode("plan_input", compose.InvokableLambda(planInput)); err != nil {
		return nil, fmt.Errorf("add sql plan input node: %w", err)
	}
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add sql plan prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add sql plan model node: %w", err)
	}
	if err := graph.AddLambdaNode("strip_fences", compose.InvokableLambda(stripCodeFences)); err != nil {
		return nil, fmt.Errorf("add sql plan fence node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_plan", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add sql plan parser node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "plan_input"},
		{"plan_input", "prompt"},
		{"prompt", "model"},
		{"model", "strip_fences"},
		{"strip_fences", "parse_plan"},
		{"parse_plan", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add sql plan edge %s->%s: %w", e[0], e[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("specialist.sql_plan_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile sql plan graph: %w", err)
	}
	return runner, nil
}

// planInput renders the request as the JSON document the sql prompt expects.
func planInput(_ context.Context, req contractx.SQLPlanRequest) (map[string]any, error) {
	raw, err := json.Marshal(map[string]any{
		"question":     req.Question,
		"schema":       req.Schema,
		"current_date": req.CurrentDate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal sql plan payload: %v", contractx.ErrValidation, err)
	}
	return map[string]any{"input": string(raw)}, nil
}
