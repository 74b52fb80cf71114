package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/cloudwego/eino/schema"
)

// buildMessages renders the thread transcript as a chat history for the model.
// Assistant action messages are only sent with their observations; a call left
// without one (interrupted turn) is rendered as plain text. Observations that no
// assistant message asked for are dropped.
func buildMessages(systemPrompt string, req contractx.ReasonRequest, maxHistory int) ([]*schema.Message, error) {
	st := req.State
	if st == nil {
		return nil, fmt.Errorf("%w: reasoning state is nil", contractx.ErrValidation)
	}

	out := make([]*schema.Message, 0, len(st.Messages)+1)
	out = append(out, schema.SystemMessage(systemHeader(systemPrompt, st, req.Capabilities)))

	observed := make(map[string]struct{})
	for _, m := range st.Messages {
		if m.Role == statex.RoleTool && m.CallID != "" {
			observed[m.CallID] = struct{}{}
		}
	}
	requested := make(map[string]struct{})
	for _, m := range st.Messages {
		if len(m.Actions) == 0 || !allObserved(m.Actions, observed) {
			continue
		}
		for _, a := range m.Actions {
			requested[a.CallID] = struct{}{}
		}
	}

	for _, m := range window(st.Messages, maxHistory) {
		switch m.Role {
		case statex.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case statex.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case statex.RoleTool:
			if _, ok := requested[m.CallID]; !ok {
				continue
			}
			out = append(out, schema.ToolMessage(m.Content, m.CallID))
		case statex.RoleAssistant:
			if len(m.Actions) == 0 {
				out = append(out, schema.AssistantMessage(m.Content, nil))
				continue
			}
			if !allObserved(m.Actions, observed) {
				out = append(out, schema.AssistantMessage(describeActions(m.Actions), nil))
				continue
			}
			calls, err := toToolCalls(m.Actions)
			if err != nil {
				return nil, err
			}
			out = append(out, schema.AssistantMessage("", calls))
		}
	}
	return out, nil
}

func systemHeader(systemPrompt string, st *statex.ConversationState, caps []contractx.CapabilityInfo) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(systemPrompt))
	b.WriteString("\n\ncurrent_date: ")
	b.WriteString(st.CurrentDate)
	if len(caps) > 0 {
		b.WriteString("\navailable tools:")
		for _, c := range caps {
			b.WriteString("\n- ")
			b.WriteString(c.Name)
			if c.Kind != "" {
				b.WriteString(" (" + string(c.Kind) + ")")
			}
		}
	}
	return b.String()
}

// window keeps at most max messages and starts on a user message so that
// tool observations are never separated from the call that produced them.
func window(msgs []statex.Message, max int) []statex.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	for i := len(msgs) - max; i < len(msgs); i++ {
		if msgs[i].Role == statex.RoleUser {
			return msgs[i:]
		}
	}
	// one turn is longer than the window; keep the turn whole
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == statex.RoleUser {
			return msgs[i:]
		}
	}
	return msgs
}

func allObserved(actions []statex.ActionRequest, observed map[string]struct{}) bool {
	for _, a := range actions {
		if _, ok := observed[a.CallID]; !ok {
			return false
		}
	}
	return true
}

func toToolCalls(actions []statex.ActionRequest) ([]schema.ToolCall, error) {
	calls := make([]schema.ToolCall, 0, len(actions))
	for _, a := range actions {
		args := a.Args
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal args of call=%s: %v", contractx.ErrValidation, a.CallID, err)
		}
		calls = append(calls, schema.ToolCall{
			ID:   a.CallID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      a.Capability,
				Arguments: string(raw),
			},
		})
	}
	return calls, nil
}

func describeActions(actions []statex.ActionRequest) string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Capability)
	}
	return "(interrupted before completing: " + strings.Join(names, ", ") + ")"
}
