package specialist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

var reportTemplate = template.Must(template.New("report").Parse(
	`{{if .Success}}✅{{else}}⚠️{{end}} **{{.Title}}**
{{range .Lines}}
- **{{.Label}}:** {{.Value}}{{end}}{{range .Notes}}

{{.}}{{end}}
`))

type reportLine struct {
	Label string
	Value string
}

type reportView struct {
	Success bool
	Title   string
	Lines   []reportLine
	Notes   []string
}

// hidden from the rendered record
var reportSkipFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

// RenderReport formats an operation result without a model. The output only
// depends on the input.
func RenderReport(req contractx.ReportRequest) (string, error) {
	view, err := buildReportView(req.OperationResult)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func buildReportView(result any) (reportView, error) {
	m, err := toMap(result)
	if err != nil {
		return reportView{}, err
	}

	view := reportView{Success: true}
	if s, ok := m["success"].(bool); ok {
		view.Success = s
	}
	details := m
	if p, ok := m["payload"].(map[string]any); ok {
		details = p
	}

	op, _ := details["operation"].(string)
	table, _ := details["table"].(string)
	view.Title = reportTitle(view.Success, op, table)

	if rec, ok := details["record"].(map[string]any); ok {
		view.Lines = recordLines(rec)
	} else if rows, ok := details["rows"].([]any); ok {
		view.Lines = []reportLine{{Label: "Rows", Value: strconv.Itoa(len(rows))}}
		if row, ok := singleRow(rows); ok {
			view.Lines = append(view.Lines, recordLines(row)...)
		}
	}
	if answer, ok := m["answer"].(string); ok && strings.TrimSpace(answer) != "" {
		view.Notes = append(view.Notes, strings.TrimSpace(answer))
	}

	if view.Success {
		return view, nil
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		view.Notes = append(view.Notes, msg)
	}
	if missing := stringList(details["missing"]); len(missing) > 0 {
		view.Notes = append(view.Notes, "Missing fields: "+strings.Join(missing, ", "))
	}
	if invalid, ok := details["invalid"].(map[string]any); ok && len(invalid) > 0 {
		keys := sortedKeys(invalid)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" ("+formatValue(invalid[k])+")")
		}
		view.Notes = append(view.Notes, "Invalid fields: "+strings.Join(parts, ", "))
	}
	return view, nil
}

func reportTitle(success bool, op, table string) string {
	var title string
	switch {
	case !success:
		title = "Operation not completed"
	case strings.EqualFold(op, string(contractx.IntentInsert)):
		title = "Record created"
	case strings.EqualFold(op, string(contractx.IntentUpdate)):
		title = "Record updated"
	case strings.EqualFold(op, string(contractx.IntentDelete)):
		title = "Record deleted"
	case strings.EqualFold(op, string(contractx.IntentQuery)):
		title = "Query result"
	default:
		title = "Done"
	}
	if table != "" {
		title += " in " + table
	}
	return title
}

func recordLines(rec map[string]any) []reportLine {
	keys := sortedKeys(rec)
	lines := make([]reportLine, 0, len(keys))
	for _, k := range keys {
		if reportSkipFields[k] || rec[k] == nil {
			continue
		}
		lines = append(lines, reportLine{Label: fieldLabel(k), Value: formatValue(rec[k])})
	}
	return lines
}

func singleRow(rows []any) (map[string]any, bool) {
	if len(rows) != 1 {
		return nil, false
	}
	row, ok := rows[0].(map[string]any)
	return row, ok
}

func fieldLabel(key string) string {
	label := strings.ReplaceAll(key, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

func toMap(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case string:
		// observations are passed through as their JSON text
		var out map[string]any
		if err := json.Unmarshal([]byte(x), &out); err == nil {
			return out, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: operation result is not serializable: %v", contractx.ErrValidation, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		// scalar results are shown as they are
		return map[string]any{"record": map[string]any{"result": v}}, nil
	}
	return out, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, formatValue(it))
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
