package orchestrator

import (
	"context"
	"fmt"

	nodex "github.com/MLAN1O/atlas/agent/nodes"
	"github.com/cloudwego/eino/compose"
)

func (e *Engine) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, e.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateState(ctx, in, e.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_state: %w", err)
	}

	if err := graph.AddLambdaNode("begin_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BeginTurn(ctx, in, e.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node begin_turn: %w", err)
	}

	if err := e.addTurnTail(graph); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_state"},
		{"load_or_create_state", "begin_turn"},
		{"begin_turn", "run_state_machine"},
		{"run_state_machine", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

func (e *Engine) compileResumeTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.ResumeInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.ResumeInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_resume",
		compose.InvokableLambda(func(ctx context.Context, in nodex.ResumeInput) (*nodex.GraphState, error) {
			return nodex.ValidateResume(in, e.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_resume: %w", err)
	}

	if err := graph.AddLambdaNode("load_existing_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadExistingState(ctx, in, e.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_existing_state: %w", err)
	}

	if err := graph.AddLambdaNode("prepare_resume",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PrepareResume(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node prepare_resume: %w", err)
	}

	if err := e.addTurnTail(graph); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{compose.START, "validate_resume"},
		{"validate_resume", "load_existing_state"},
		{"load_existing_state", "prepare_resume"},
		{"prepare_resume", "run_state_machine"},
		{"run_state_machine", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.resume_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile resume graph: %w", err)
	}
	return runner, nil
}

type lambdaGraph interface {
	AddLambdaNode(key string, node *compose.Lambda, opts ...compose.GraphAddNodeOpt) error
}

// addTurnTail adds the nodes shared by both graphs.
func (e *Engine) addTurnTail(graph lambdaGraph) error {
	if err := graph.AddLambdaNode("run_state_machine",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunStateMachine(ctx, in, e.deps())
		}),
	); err != nil {
		return fmt.Errorf("add node run_state_machine: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return fmt.Errorf("add node finalize_reply: %w", err)
	}
	return nil
}
