package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	datastorex "github.com/MLAN1O/atlas/agent/datastore"
	workflowx "github.com/MLAN1O/atlas/agent/workflow"
)

type fakeRecords struct {
	mu       sync.Mutex
	similar  map[string][]map[string]any
	inserts  []map[string]any
	searches []datastorex.SimilarQuery
	queries  []string
}

func (f *fakeRecords) Insert(_ context.Context, table string, record map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, record)
	row := map[string]any{"id": int64(100 + len(f.inserts))}
	for k, v := range record {
		row[k] = v
	}
	return row, nil
}

func (f *fakeRecords) Update(_ context.Context, table string, id any, _ map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("%w: %s id=%v", contractx.ErrRecordNotFound, table, id)
}

func (f *fakeRecords) Delete(_ context.Context, table string, id any) (map[string]any, error) {
	return map[string]any{"id": id}, nil
}

func (f *fakeRecords) FindSimilar(_ context.Context, q datastorex.SimilarQuery) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	return f.similar[q.Table], nil
}

func (f *fakeRecords) Query(_ context.Context, statement string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, statement)
	if _, err := datastorex.GuardReadOnly(statement); err != nil {
		return nil, err
	}
	return []map[string]any{{"sum": 450.0}}, nil
}

type fakePlanner struct {
	sql string
	err error
}

func (f fakePlanner) PlanSQL(_ context.Context, req contractx.SQLPlanRequest) (contractx.SQLPlan, error) {
	if f.err != nil {
		return contractx.SQLPlan{}, f.err
	}
	return contractx.SQLPlan{SQL: f.sql}, nil
}

type fakeFormatter struct{}

func (fakeFormatter) FormatReport(_ context.Context, req contractx.ReportRequest) (string, error) {
	return "report: " + req.UserIntent, nil
}

func newTestRegistry(t *testing.T, records *fakeRecords, planner contractx.SQLPlanner) *Registry {
	t.Helper()
	cat, err := catalogx.Default()
	require.NoError(t, err)
	reg, err := NewDefaultRegistry(Deps{Catalog: cat, Records: records, Planner: planner, Formatter: fakeFormatter{}})
	require.NoError(t, err)
	return reg
}

func call(name string, args map[string]any) Invocation {
	return Invocation{
		Request:     contractx.CapabilityRequest{CallID: "call-1", Capability: name, Args: args},
		CurrentDate: "2025-01-10",
		UserText:    "registre uma despesa de 450 com ração",
	}
}

func TestDefaultRegistryIsClosed(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &fakeRecords{}, fakePlanner{sql: "SELECT 1"})
	names := make([]string, 0)
	for _, info := range reg.Infos() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"query", "insert", "update", "delete", "similarity_search", "format_report", "calculate"}, names)
	assert.Len(t, reg.ToolInfos(), 7)

	res := reg.Invoke(context.Background(), call("drop_table", nil))
	assert.False(t, res.Success)
	assert.Equal(t, contractx.CodeUnknownCapability, res.Code)
	assert.Equal(t, "call-1", res.CallID)
}

func TestRegistryRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{}
	reg := newTestRegistry(t, records, fakePlanner{sql: "SELECT 1"})

	res := reg.Invoke(context.Background(), call(NameInsert, map[string]any{"record": "not an object"}))
	assert.False(t, res.Success)
	assert.Equal(t, contractx.CodeInvalidArguments, res.Code)

	res = reg.Invoke(context.Background(), call(NameUpdate, map[string]any{"table": "custos", "updates": map[string]any{}, "bogus": 1}))
	assert.Equal(t, contractx.CodeInvalidArguments, res.Code)
	assert.Contains(t, res.Error, "record_id")
	assert.Empty(t, records.inserts)
}

func TestInsertEnrichesThroughSimilaritySearch(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{similar: map[string][]map[string]any{
		"custos": {{
			"id":              int64(7),
			"data":            "2024-12-20",
			"descricao":       "Ração",
			"categoria":       "Alimentação",
			"total":           "300.00",
			"forma_pagamento": "Pix",
			"created_at":      "2024-12-20T12:00:00Z",
		}},
	}}
	reg := newTestRegistry(t, records, fakePlanner{sql: "SELECT 1"})

	res := reg.Invoke(context.Background(), call(NameInsert, map[string]any{
		"table":  "custos",
		"record": map[string]any{"descricao": "Ração", "total": 450.0},
	}))
	require.True(t, res.Success, res.Error)

	require.Len(t, records.searches, 1)
	assert.Equal(t, []string{"Ração"}, records.searches[0].Terms)
	assert.Equal(t, 1, records.searches[0].Limit)

	require.Len(t, records.inserts, 1)
	sent := records.inserts[0]
	assert.Equal(t, 450.0, sent["total"])
	assert.Equal(t, "Alimentação", sent["categoria"])
	assert.Equal(t, "2025-01-10", sent["data"])
	assert.NotContains(t, sent, "id")

	out, ok := res.Payload.(workflowx.Outcome)
	require.True(t, ok)
	assert.Equal(t, int64(101), out.RecordID)
}

func TestInsertValidationFailureCarriesDetails(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{}
	reg := newTestRegistry(t, records, fakePlanner{sql: "SELECT 1"})

	res := reg.Invoke(context.Background(), call(NameInsert, map[string]any{
		"table":  "vendas",
		"record": map[string]any{"cliente": "Ana"},
	}))
	assert.False(t, res.Success)
	assert.Equal(t, contractx.CodeValidation, res.Code)
	verr, ok := res.Payload.(*workflowx.ValidationError)
	require.True(t, ok)
	assert.Contains(t, verr.Missing, "produto")
	assert.Empty(t, records.inserts)
}

func TestUpdateMissingRecordFails(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &fakeRecords{}, fakePlanner{sql: "SELECT 1"})
	res := reg.Invoke(context.Background(), call(NameUpdate, map[string]any{
		"table":     "custos",
		"record_id": 999.0,
		"updates":   map[string]any{"total": 10},
	}))
	assert.False(t, res.Success)
	assert.Equal(t, contractx.CodeRecordNotFound, res.Code)
	assert.Contains(t, res.Error, "id=999")
}

func TestQueryCapability(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{}
	reg := newTestRegistry(t, records, fakePlanner{sql: "SELECT SUM(total) FROM custos"})
	res := reg.Invoke(context.Background(), call(NameQuery, map[string]any{"question": "quanto gastei?"}))
	require.True(t, res.Success, res.Error)
	qr := res.Payload.(QueryResult)
	assert.Equal(t, 1, qr.RowCount)

	reg = newTestRegistry(t, records, fakePlanner{sql: "DELETE FROM custos"})
	res = reg.Invoke(context.Background(), call(NameQuery, map[string]any{"question": "apague tudo"}))
	assert.False(t, res.Success)
	assert.Equal(t, contractx.CodeInvalidArguments, res.Code)

	reg = newTestRegistry(t, records, fakePlanner{err: fmt.Errorf("%w: boom", contractx.ErrModelInvoke)})
	res = reg.Invoke(context.Background(), call(NameQuery, map[string]any{"question": "x"}))
	assert.Equal(t, contractx.CodeCapabilityExecution, res.Code)
}

func TestFormatReportCapability(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &fakeRecords{}, fakePlanner{sql: "SELECT 1"})
	res := reg.Invoke(context.Background(), call(NameFormatReport, map[string]any{
		"user_intent":      "registrar despesa",
		"operation_result": map[string]any{"id": 1},
	}))
	text, ok := ReportText(res)
	require.True(t, ok)
	assert.Equal(t, "report: registrar despesa", text)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 3 * (4 - 1)", 11},
		{"12,5 * 30", 375},
		{"12.5 x 4", 50},
		{"2 ^ 3 ^ 2", 512},
		{"-(3 - 5)", 2},
		{"10 % 4", 2},
		{"7 / 2", 3.5},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.InDelta(t, tt.want, got, 1e-9, tt.expr)
	}

	for _, bad := range []string{"", "1 / 0", "(1 + 2", "1 +", "2 ) 3", "abc"} {
		_, err := Evaluate(bad)
		assert.Error(t, err, bad)
	}
}

func TestJSONSchemaShapes(t *testing.T) {
	t.Parallel()

	s := JSONSchema([]contractx.FieldSpec{
		{Name: "record_id", Type: contractx.FieldID, Required: true},
		{Name: "note", Type: contractx.FieldString, Nullable: true},
		{Name: "payload", Type: contractx.FieldAny},
	})
	props := s["properties"].(map[string]any)
	assert.Equal(t, []any{"integer", "string"}, props["record_id"].(map[string]any)["type"])
	assert.Equal(t, []any{"string", "null"}, props["note"].(map[string]any)["type"])
	assert.NotContains(t, props["payload"].(map[string]any), "type")
	assert.Equal(t, []any{"record_id"}, s["required"])
}

func TestExecErrorKeepsTimeout(t *testing.T) {
	t.Parallel()

	err := execError("run sql", context.DeadlineExceeded)
	assert.Equal(t, contractx.CodeTimeout, contractx.CodeOf(err))
	assert.True(t, errors.Is(err, contractx.ErrCapabilityExecution))
	assert.True(t, strings.HasPrefix(err.Error(), "capability execution failed"))
}
