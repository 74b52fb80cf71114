package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"
)

// Reporter formats operation results. It asks the report model when a client is
// configured and falls back to RenderReport otherwise.
type Reporter struct {
	client      *openai.Client
	model       string
	prompt      string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

var _ contractx.ReportFormatter = (*Reporter)(nil)

type ReporterConfig struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// NewReporter accepts a nil client; every report is then rendered locally.
func NewReporter(client *openai.Client, cfg ReporterConfig) *Reporter {
	return &Reporter{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		prompt:      strings.TrimSpace(cfg.Prompt),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

func (r *Reporter) FormatReport(ctx context.Context, req contractx.ReportRequest) (string, error) {
	if req.OperationResult == nil {
		return "", fmt.Errorf("%w: operation_result is required", contractx.ErrValidation)
	}
	if r.client == nil || r.model == "" || r.prompt == "" {
		return RenderReport(req)
	}

	text, err := r.complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: report: %w", contractx.ErrModelInvoke, ctx.Err())
		}
		log.Warn().Err(err).Str("model", r.model).Msg("report model unavailable, rendering locally")
		return RenderReport(req)
	}
	return text, nil
}

func (r *Reporter) complete(ctx context.Context, req contractx.ReportRequest) (string, error) {
	result, err := json.Marshal(req.OperationResult)
	if err != nil {
		return "", fmt.Errorf("marshal operation result: %w", err)
	}
	user := "user_request: " + req.UserIntent + "\ncurrent_date: " + req.CurrentDate + "\noperation_result: " + string(result)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.prompt),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(r.temperature),
	}
	if r.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(r.maxTokens)
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: report model returned no choices", contractx.ErrSchemaViolation)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: report model returned empty content", contractx.ErrSchemaViolation)
	}
	return text, nil
}
