// Package reasoner implements the reasoning unit: it turns the thread transcript
// into either a final answer or a batch of capability requests.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	metricsx "github.com/MLAN1O/atlas/pkg/metrics"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Option func(*Reasoner)

// WithLimiter shares a rate limiter across reasoning calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Reasoner) { r.limiter = l }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Reasoner) { r.timeout = d }
}

// WithMaxHistory bounds the messages sent per call. Zero or less sends the
// whole conversation.
func WithMaxHistory(n int) Option {
	return func(r *Reasoner) { r.maxHistory = n }
}

type Reasoner struct {
	runner     compose.Runnable[contractx.ReasonRequest, *schema.Message]
	limiter    *rate.Limiter
	timeout    time.Duration
	maxHistory int
}

var _ contractx.Reasoner = (*Reasoner)(nil)

// New binds tools to the chat model and compiles the reasoning graph.
func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	tools []*schema.ToolInfo,
	opts ...Option,
) (*Reasoner, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: reasoning model is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: orchestrator prompt", contractx.ErrPromptMissing)
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for reasoner: %v", contractx.ErrModelInvoke, err)
	}

	r := &Reasoner{}
	for _, opt := range opts {
		opt(r)
	}

	runner, err := compileReasoningGraph(ctx, toolModel, func(req contractx.ReasonRequest) ([]*schema.Message, error) {
		return buildMessages(systemPrompt, req, r.maxHistory)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: compile reasoning graph: %v", contractx.ErrModelInvoke, err)
	}
	r.runner = runner
	return r, nil
}

func (r *Reasoner) Reason(ctx context.Context, req contractx.ReasonRequest) (contractx.Decision, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return contractx.Decision{}, fmt.Errorf("%w: rate limit wait: %v", contractx.ErrModelInvoke, err)
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := r.runner.Invoke(ctx, req)
	metricsx.ReasoningDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return contractx.Decision{}, fmt.Errorf("%w: reason invoke: %w", contractx.ErrModelInvoke, ctx.Err())
		}
		return contractx.Decision{}, fmt.Errorf("%w: reason invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.Decision{}, fmt.Errorf("%w: empty reasoning response", contractx.ErrSchemaViolation)
	}
	return r.decide(msg)
}

func (r *Reasoner) decide(msg *schema.Message) (contractx.Decision, error) {
	if len(msg.ToolCalls) == 0 {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return contractx.Decision{}, fmt.Errorf("%w: reasoning returned neither an answer nor tool calls", contractx.ErrSchemaViolation)
		}
		return contractx.Decision{Final: content}, nil
	}

	actions := make([]contractx.CapabilityRequest, 0, len(msg.ToolCalls))
	seen := make(map[string]struct{}, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return contractx.Decision{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return contractx.Decision{}, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if _, dup := seen[id]; id == "" || dup {
			id = "call_" + uuid.NewString()
		}
		seen[id] = struct{}{}

		// unknown names are passed through; the dispatcher reports them as UNKNOWN_CAPABILITY
		actions = append(actions, contractx.CapabilityRequest{
			CallID:     id,
			Capability: name,
			Args:       args,
		})
	}
	return contractx.Decision{Actions: actions}, nil
}
