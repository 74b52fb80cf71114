package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MLAN1O/atlas/agent/agents/specialist"
	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	datastorex "github.com/MLAN1O/atlas/agent/datastore"
	dispatchx "github.com/MLAN1O/atlas/agent/dispatch"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	states  map[string]*statex.ConversationState
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*statex.ConversationState)}
}

func (m *memStore) Load(_ context.Context, threadID string) (*statex.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[threadID]
	if !ok {
		return nil, statex.ErrStateNotFound
	}
	return st.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st *statex.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[st.ThreadID] = st.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, threadID)
	return nil
}

func (m *memStore) get(t *testing.T, threadID string) *statex.ConversationState {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[threadID]
	require.True(t, ok, "thread %s not saved", threadID)
	return st.Clone()
}

type step func(req contractx.ReasonRequest) (contractx.Decision, error)

// scriptedReasoner replays steps in order and repeats the last one.
type scriptedReasoner struct {
	mu    sync.Mutex
	steps []step
	calls int
	seen  []*statex.ConversationState
	block chan struct{}
}

func (r *scriptedReasoner) Reason(ctx context.Context, req contractx.ReasonRequest) (contractx.Decision, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return contractx.Decision{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, req.State.Clone())
	i := r.calls
	r.calls++
	if len(r.steps) == 0 {
		return contractx.Decision{}, errors.New("no scripted step")
	}
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	return r.steps[i](req)
}

func (r *scriptedReasoner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func final(text string) step {
	return func(contractx.ReasonRequest) (contractx.Decision, error) {
		return contractx.Decision{Final: text}, nil
	}
}

func actions(reqs ...contractx.CapabilityRequest) step {
	return func(contractx.ReasonRequest) (contractx.Decision, error) {
		return contractx.Decision{Actions: reqs}, nil
	}
}

func failing(err error) step {
	return func(contractx.ReasonRequest) (contractx.Decision, error) {
		return contractx.Decision{}, err
	}
}

func act(id, name string, args map[string]any) contractx.CapabilityRequest {
	return contractx.CapabilityRequest{CallID: id, Capability: name, Args: args}
}

type fakeRecords struct {
	mu      sync.Mutex
	similar map[string][]map[string]any
	inserts []map[string]any
	updates int
	deletes int
	queries []string
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil, fmt.Errorf("%w: %s id=%v", contractx.ErrRecordNotFound, table, id)
}

func (f *fakeRecords) Delete(_ context.Context, table string, id any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return map[string]any{"id": id}, nil
}

func (f *fakeRecords) FindSimilar(_ context.Context, q datastorex.SimilarQuery) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.similar[q.Table], nil
}

func (f *fakeRecords) Query(_ context.Context, statement string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, statement)
	return []map[string]any{{"total": 450.0}}, nil
}

type fakePlanner struct{}

func (fakePlanner) PlanSQL(_ context.Context, req contractx.SQLPlanRequest) (contractx.SQLPlan, error) {
	return contractx.SQLPlan{SQL: "SELECT SUM(total) AS total FROM custos"}, nil
}

// countingFormatter renders the deterministic report and counts calls.
type countingFormatter struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFormatter) FormatReport(ctx context.Context, req contractx.ReportRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return specialist.RenderReport(req)
}

func (f *countingFormatter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []contractx.WriteEvent
}

func (n *recordingNotifier) NotifyWrite(_ context.Context, ev contractx.WriteEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type harness struct {
	engine    *Engine
	store     *memStore
	reasoner  *scriptedReasoner
	records   *fakeRecords
	formatter *countingFormatter
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, cfg Config, steps ...step) *harness {
	t.Helper()

	cat, err := catalogx.Default()
	require.NoError(t, err)

	h := &harness{
		store:     newMemStore(),
		reasoner:  &scriptedReasoner{steps: steps},
		records:   &fakeRecords{similar: map[string][]map[string]any{}},
		formatter: &countingFormatter{},
		notifier:  &recordingNotifier{},
	}

	reg, err := capabilityx.NewDefaultRegistry(capabilityx.Deps{
		Catalog:   cat,
		Records:   h.records,
		Planner:   fakePlanner{},
		Formatter: h.formatter,
	})
	require.NoError(t, err)

	disp, err := dispatchx.New(reg, dispatchx.Config{CapabilityTimeout: 5 * time.Second, MaxParallel: 4, MaxWritesPerTurn: 1})
	require.NoError(t, err)

	h.engine, err = New(h.store, h.reasoner, reg, disp, cfg,
		WithNotifier(h.notifier),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) turn(ctx context.Context, threadID, text string) (contractx.TurnOutput, error) {
	return h.engine.HandleTurn(ctx, contractx.TurnInput{ThreadID: threadID, UserText: text, CurrentDate: "2025-01-10"})
}
