package reasoner

import (
	"context"
	"fmt"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

func compileReasoningGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	build func(contractx.ReasonRequest) ([]*schema.Message, error),
) (compose.Runnable[contractx.ReasonRequest, *schema.Message], error) {
	graph := compose.NewGraph[contractx.ReasonRequest, *schema.Message]()

	if err := graph.AddLambdaNode("build_messages",
		compose.InvokableLambda(func(ctx context.Context, req contractx.ReasonRequest) ([]*schema.Message, error) {
			return build(req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add reasoning build node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add reasoning model node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "build_messages"); err != nil {
		return nil, fmt.Errorf("add reasoning edge start->build: %w", err)
	}
	if err := graph.AddEdge("build_messages", "model"); err != nil {
		return nil, fmt.Errorf("add reasoning edge build->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add reasoning edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("reasoner.graph"))
	if err != nil {
		return nil, fmt.Errorf("compile reasoning graph: %w", err)
	}
	return runner, nil
}
