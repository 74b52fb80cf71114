package capability

import (
	"context"
	"errors"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type ReportResult struct {
	Report string `json:"report"`
}

// FormatReport renders an operation outcome as the user-facing answer.
type FormatReport struct {
	formatter contractx.ReportFormatter
}

func NewFormatReport(formatter contractx.ReportFormatter) (*FormatReport, error) {
	if formatter == nil {
		return nil, errors.New("nil report formatter")
	}
	return &FormatReport{formatter: formatter}, nil
}

func (c *FormatReport) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameFormatReport,
		Description: "Turn the result of an operation into the final message for the user. Call it after every write and after every answered query.",
		Kind:        contractx.KindReport,
		Fields: []contractx.FieldSpec{
			{Name: "user_intent", Type: contractx.FieldString, Required: true, Description: "What the user asked for"},
			{Name: "operation_result", Type: contractx.FieldAny, Required: true, Description: "Result of the operation"},
		},
	}
}

func (c *FormatReport) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	args := inv.Args()
	text, err := c.formatter.FormatReport(ctx, contractx.ReportRequest{
		UserIntent:      stringArg(args, "user_intent"),
		OperationResult: args["operation_result"],
		CurrentDate:     inv.CurrentDate,
	})
	if err != nil {
		return contractx.Failed(inv.Request, execError("format report", err))
	}
	return contractx.Succeeded(inv.Request, ReportResult{Report: text})
}

// ReportText extracts the rendered report from a successful format_report result.
func ReportText(res contractx.CapabilityResult) (string, bool) {
	if !res.Success {
		return "", false
	}
	switch p := res.Payload.(type) {
	case ReportResult:
		return p.Report, p.Report != ""
	case *ReportResult:
		return p.Report, p != nil && p.Report != ""
	case map[string]any:
		s, ok := p["report"].(string)
		return s, ok && s != ""
	}
	return "", false
}
