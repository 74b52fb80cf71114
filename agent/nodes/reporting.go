package orchestratornode

import (
	"context"
	"encoding/json"
	"time"

	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func reportText(res contractx.CapabilityResult) (string, bool) {
	if res.Capability != capabilityx.NameFormatReport {
		return "", false
	}
	return capabilityx.ReportText(res)
}

// reportAnswer returns the report of the turn's write, calling format_report
// when the reasoning unit did not. The report is kept on the turn so it is
// produced once.
func (m *machine) reportAnswer(ctx context.Context, t *statex.Turn) string {
	if t.Report != "" {
		return t.Report
	}
	outcome := decodeOutcome(t.WriteOutcome)
	if text, ok := m.formatReport(ctx, t, outcome); ok {
		return text
	}
	return plainReport(outcome)
}

// queryAnswer reports the last query of the turn together with the final
// answer of the reasoning unit. The answer is returned as is when the report
// cannot be produced.
func (m *machine) queryAnswer(ctx context.Context, t *statex.Turn, final string) string {
	if t.Report != "" {
		return t.Report
	}
	outcome := decodeOutcome(t.QueryOutcome)
	if p, ok := outcome["payload"].(map[string]any); ok {
		p["operation"] = string(contractx.IntentQuery)
	}
	if final != "" {
		outcome["answer"] = final
	}
	if text, ok := m.formatReport(ctx, t, outcome); ok {
		return text
	}
	return final
}

func (m *machine) formatReport(ctx context.Context, t *statex.Turn, outcome map[string]any) (string, bool) {
	req := contractx.CapabilityRequest{
		CallID:     "report_" + uuid.NewString(),
		Capability: capabilityx.NameFormatReport,
		Args: map[string]any{
			"user_intent":      t.UserText,
			"operation_result": outcome,
		},
	}
	rep := m.deps.Dispatcher.Dispatch(ctx, m.env(t), []contractx.CapabilityRequest{req})
	if len(rep.Results) != 1 {
		return "", false
	}
	if text, ok := reportText(rep.Results[0]); ok {
		t.Report = text
		return text, true
	}
	log.Warn().
		Str("thread_id", m.st.ThreadID).
		Str("turn_id", t.ID).
		Str("error", rep.Results[0].Error).
		Msg("format_report failed, using plain answer")
	return "", false
}

func decodeOutcome(raw string) map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"success": false, "error": raw}
	}
	return out
}

func plainReport(outcome map[string]any) string {
	if ok, _ := outcome["success"].(bool); ok {
		return "The operation was completed successfully."
	}
	if msg, _ := outcome["error"].(string); msg != "" {
		return "The operation could not be completed: " + msg
	}
	return "The operation could not be completed."
}

func writeEvent(threadID, turnID string, res contractx.CapabilityResult, at time.Time) contractx.WriteEvent {
	ev := contractx.WriteEvent{
		ThreadID:   threadID,
		TurnID:     turnID,
		Capability: res.Capability,
		Success:    res.Success,
		Code:       res.Code,
		At:         at.UTC(),
	}
	payload := decodeOutcome(res.Observation())["payload"]
	if p, ok := payload.(map[string]any); ok {
		ev.Table, _ = p["table"].(string)
		ev.RecordID = p["record_id"]
	}
	return ev
}
