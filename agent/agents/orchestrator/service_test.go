package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTurnInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, final("unused"))

	_, err := h.engine.HandleTurn(context.Background(), contractx.TurnInput{ThreadID: " ", UserText: "oi"})
	require.ErrorIs(t, err, ErrInvalidThread)

	_, err = h.engine.HandleTurn(context.Background(), contractx.TurnInput{ThreadID: "t1", UserText: "  "})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = h.engine.HandleTurn(context.Background(), contractx.TurnInput{ThreadID: "t1", UserText: "oi", CurrentDate: "10/01/2025"})
	require.ErrorIs(t, err, contractx.ErrValidation)

	assert.Zero(t, h.reasoner.callCount())
	assert.Zero(t, h.store.saves)
}

func TestSimpleQueryTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameQuery, map[string]any{"question": "quanto gastei em janeiro?"})),
		final("Você gastou R$ 450,00 em janeiro."),
	)

	out, err := h.turn(context.Background(), "t1", "quanto gastei em janeiro?")
	require.NoError(t, err)
	want := "✅ **Query result**\n\n" +
		"- **Rows:** 1\n" +
		"- **Total:** 450\n\n" +
		"Você gastou R$ 450,00 em janeiro."
	assert.Equal(t, want, out.Answer)
	assert.Equal(t, contractx.IntentQuery, out.Intent)
	assert.Equal(t, 1, out.Cycles)
	assert.Empty(t, out.Code)
	assert.Equal(t, []string{"SELECT SUM(total) AS total FROM custos"}, h.records.queries)
	// the answer went through format_report exactly once
	assert.Equal(t, 1, h.formatter.count())
	assert.Empty(t, h.notifier.events)

	// the second reasoning call sees the observation of the first cycle
	require.Len(t, h.reasoner.seen, 2)
	last := h.reasoner.seen[1].Messages[len(h.reasoner.seen[1].Messages)-1]
	assert.Equal(t, statex.RoleTool, last.Role)
	assert.Equal(t, "c1", last.CallID)
	assert.False(t, last.Failed)
	assert.Equal(t, "2025-01-10", h.reasoner.seen[1].CurrentDate)

	st := h.store.get(t, "t1")
	require.NotNil(t, st.Turn)
	assert.Equal(t, statex.PhaseDone, st.Turn.Phase)
	assert.Equal(t, out.Answer, st.Turn.Report)
	roles := make([]statex.Role, 0, len(st.Messages))
	for _, m := range st.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []statex.Role{statex.RoleUser, statex.RoleAssistant, statex.RoleTool, statex.RoleAssistant}, roles)
	assert.Empty(t, st.PendingActions)
}

func TestInsertWithEnrichmentOverride(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "despesa",
			"record": map[string]any{"descricao": "Ração", "total": 450.0},
		})),
		final("Pronto!"),
	)
	h.records.similar["custos"] = []map[string]any{{
		"id":           int64(7),
		"data":         "2024-12-20",
		"descricao":    "Ração",
		"categoria":    "Alimentação",
		"total":        300.0,
		"beneficiario": "Agro Peixe Ltda",
		"created_at":   "2024-12-20T10:00:00Z",
	}}

	out, err := h.turn(context.Background(), "t1", "gastei 450 com ração")
	require.NoError(t, err)

	require.Len(t, h.records.inserts, 1)
	rec := h.records.inserts[0]
	assert.Equal(t, 450.0, rec["total"], "user value wins over the enriched one")
	assert.Equal(t, "Alimentação", rec["categoria"], "missing field comes from the similar record")
	assert.Equal(t, "Agro Peixe Ltda", rec["beneficiario"])
	assert.Equal(t, "2025-01-10", rec["data"], "date default overrides the enriched date")
	assert.NotContains(t, rec, "id")
	assert.NotContains(t, rec, "created_at")

	// the engine produced the report because the reasoner did not
	assert.Equal(t, 1, h.formatter.count())
	assert.Contains(t, out.Answer, "✅ **Record created in custos**")
	assert.Contains(t, out.Answer, "- **Total:** 450")
	assert.NotContains(t, out.Answer, "Pronto!")
	assert.Equal(t, contractx.IntentInsert, out.Intent)

	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, "custos", ev.Table)
	assert.EqualValues(t, 101, ev.RecordID)

	st := h.store.get(t, "t1")
	assert.Equal(t, 1, st.Turn.Writes)
	assert.Equal(t, out.Answer, st.Turn.Report)
}

func TestUpdateMissingRecordEndsWithFailureReport(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameUpdate, map[string]any{
			"table":     "custos",
			"record_id": 999.0,
			"updates":   map[string]any{"total": 10.0},
		})),
		final("should not be asked"),
	)

	out, err := h.turn(context.Background(), "t1", "corrija o total da despesa 999 para 10")
	require.NoError(t, err)
	assert.Equal(t, contractx.CodeRecordNotFound, out.Code)
	assert.Equal(t, contractx.IntentUpdate, out.Intent)
	assert.Contains(t, out.Answer, "⚠️ **Operation not completed in custos**")
	assert.Equal(t, 1, h.reasoner.callCount())
	assert.Equal(t, 1, h.records.updates)
	assert.Equal(t, 1, h.formatter.count())

	require.Len(t, h.notifier.events, 1)
	assert.False(t, h.notifier.events[0].Success)
}

func TestValidationFailureAsksForMissingFields(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "vendas",
			"record": map[string]any{"cliente": "Peixaria Central"},
		})),
	)

	out, err := h.turn(context.Background(), "t1", "vendi peixe para a Peixaria Central")
	require.NoError(t, err)
	assert.Equal(t, contractx.CodeValidation, out.Code)
	assert.Contains(t, out.Answer, "Missing fields:")
	assert.Contains(t, out.Answer, "total")
	assert.Empty(t, h.records.inserts)
}

func TestSecondWriteInTurnIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "custos",
			"record": map[string]any{"descricao": "Gasolina", "total": 80.0},
		})),
		actions(act("c2", capabilityx.NameDelete, map[string]any{"table": "custos", "record_id": 3.0})),
		final("feito"),
	)

	out, err := h.turn(context.Background(), "t1", "gastei 80 de gasolina e apague a despesa 3")
	require.NoError(t, err)
	assert.Len(t, h.records.inserts, 1)
	assert.Zero(t, h.records.deletes)
	assert.Contains(t, out.Answer, "Record created in custos")

	st := h.store.get(t, "t1")
	var violation *statex.Message
	for i := range st.Messages {
		if st.Messages[i].CallID == "c2" {
			violation = &st.Messages[i]
		}
	}
	require.NotNil(t, violation)
	assert.True(t, violation.Failed)
	assert.Equal(t, string(contractx.CodeSingleWriteViolation), violation.ErrorCode)
	assert.Equal(t, 1, st.Turn.Writes)
}

func TestAmbiguousBatchAsksForClarification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(
			act("c1", capabilityx.NameInsert, map[string]any{"record": map[string]any{"total": 1.0}}),
			act("c2", capabilityx.NameDelete, map[string]any{"table": "custos", "record_id": 1.0}),
		),
	)

	out, err := h.turn(context.Background(), "t1", "registre e apague")
	require.NoError(t, err)
	assert.Equal(t, contractx.CodeAmbiguousIntent, out.Code)
	assert.Equal(t, contractx.IntentAmbiguous, out.Intent)
	assert.Contains(t, out.Answer, "insert, delete")
	assert.Empty(t, h.records.inserts)
	assert.Zero(t, h.records.deletes)
}

func TestNonConvergenceIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxCycles: 3},
		actions(act("c", capabilityx.NameCalculate, map[string]any{"expression": "1+1"})),
	)

	out, err := h.turn(context.Background(), "t1", "calcule para sempre")
	require.Error(t, err)
	require.ErrorIs(t, err, contractx.ErrNonConvergence)

	var turnErr *contractx.TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, contractx.CodeNonConvergence, turnErr.Code)
	assert.Contains(t, out.Answer, "did not converge")
	assert.Equal(t, 3, out.Cycles)
	assert.Equal(t, 3, h.reasoner.callCount())

	st := h.store.get(t, "t1")
	assert.Equal(t, statex.PhaseDone, st.Turn.Phase)
}

func TestReportIsProducedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "custos",
			"record": map[string]any{"descricao": "Alevinos", "total": 1200.0},
		})),
		func(req contractx.ReasonRequest) (contractx.Decision, error) {
			obs := req.State.Messages[len(req.State.Messages)-1].Content
			return contractx.Decision{Actions: []contractx.CapabilityRequest{
				act("c2", capabilityx.NameFormatReport, map[string]any{
					"user_intent":      "comprei alevinos",
					"operation_result": obs,
				}),
			}}, nil
		},
		final("resumo livre que não deve ser usado"),
	)

	out, err := h.turn(context.Background(), "t1", "comprei alevinos por 1200")
	require.NoError(t, err)
	assert.Equal(t, 1, h.formatter.count())
	assert.NotContains(t, out.Answer, "resumo livre")

	st := h.store.get(t, "t1")
	assert.Equal(t, st.Turn.Report, out.Answer)
}

func TestQueryReportRequestedByReasonerIsReused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameQuery, map[string]any{"question": "quanto gastei em janeiro?"})),
		func(req contractx.ReasonRequest) (contractx.Decision, error) {
			obs := req.State.Messages[len(req.State.Messages)-1].Content
			return contractx.Decision{Actions: []contractx.CapabilityRequest{
				act("c2", capabilityx.NameFormatReport, map[string]any{
					"user_intent":      "quanto gastei em janeiro?",
					"operation_result": obs,
				}),
			}}, nil
		},
		final("texto livre"),
	)

	out, err := h.turn(context.Background(), "t1", "quanto gastei em janeiro?")
	require.NoError(t, err)
	assert.Equal(t, 1, h.formatter.count())
	assert.Contains(t, out.Answer, "- **Total:** 450")
	assert.NotContains(t, out.Answer, "texto livre")
}

func TestNonConvergenceAfterWriteStillReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxCycles: 3},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "custos",
			"record": map[string]any{"descricao": "Gelo", "total": 50.0},
		})),
		actions(act("c", capabilityx.NameCalculate, map[string]any{"expression": "1+1"})),
	)

	out, err := h.turn(context.Background(), "t1", "gastei 50 com gelo")
	require.ErrorIs(t, err, contractx.ErrNonConvergence)
	assert.Equal(t, contractx.CodeNonConvergence, out.Code)
	assert.Len(t, h.records.inserts, 1)
	assert.Equal(t, 1, h.formatter.count())
	assert.Contains(t, out.Answer, "✅ **Record created in custos**")
	assert.NotContains(t, out.Answer, "did not converge")

	st := h.store.get(t, "t1")
	assert.Equal(t, out.Answer, st.Turn.Report)
	assert.Equal(t, string(contractx.CodeNonConvergence), st.Turn.Failure)
}

func TestAmbiguousBatchAfterWriteStillReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		actions(act("c1", capabilityx.NameInsert, map[string]any{
			"table":  "custos",
			"record": map[string]any{"descricao": "Gelo", "total": 50.0},
		})),
		actions(
			act("c2", capabilityx.NameDelete, map[string]any{"table": "custos", "record_id": 1.0}),
			act("c3", capabilityx.NameDelete, map[string]any{"table": "custos", "record_id": 2.0}),
		),
	)

	out, err := h.turn(context.Background(), "t1", "gastei 50 com gelo e apague as despesas 1 e 2")
	require.NoError(t, err)
	assert.Equal(t, contractx.CodeAmbiguousIntent, out.Code)
	assert.Len(t, h.records.inserts, 1)
	assert.Zero(t, h.records.deletes)
	assert.Equal(t, 1, h.formatter.count())
	assert.Contains(t, out.Answer, "✅ **Record created in custos**")
}

func TestPersistenceFailureRejectsTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, final("unused"))
	saveErr := errors.New("disk full")
	h.store.saveErr = saveErr

	out, err := h.turn(context.Background(), "t1", "quanto vendi?")
	require.Error(t, err)
	require.ErrorIs(t, err, saveErr)
	require.ErrorIs(t, err, contractx.ErrPersistence)
	assert.Equal(t, contractx.CodePersistence, out.Code)
	assert.Zero(t, h.reasoner.callCount())
}

func TestReasoningFailureEndsTurnWithAnswer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, failing(errors.New("provider down")))

	out, err := h.turn(context.Background(), "t1", "quanto vendi?")
	require.Error(t, err)
	require.ErrorIs(t, err, contractx.ErrReasoning)
	assert.Equal(t, contractx.CodeReasoning, out.Code)
	assert.NotEmpty(t, out.Answer)

	st := h.store.get(t, "t1")
	assert.Equal(t, statex.PhaseDone, st.Turn.Phase)
	assert.Equal(t, string(contractx.CodeReasoning), st.Turn.Failure)
}

func TestResumeDoesNotReplayInterruptedWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, final("unused"))

	st := statex.NewConversationState("t1", testNow)
	require.NoError(t, st.BeginTurn("turn-1", "gastei 50 com gelo", "2025-01-10", testNow))
	require.NoError(t, st.RequestActions([]statex.ActionRequest{
		act("c1", capabilityx.NameCalculate, map[string]any{"expression": "25*2"}),
		act("c2", capabilityx.NameInsert, map[string]any{"table": "custos", "record": map[string]any{"descricao": "Gelo", "total": 50.0}}),
	}, testNow))
	require.NoError(t, h.store.Save(context.Background(), st))

	out, err := h.engine.Resume(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "turn-1", out.TurnID)
	assert.Equal(t, contractx.CodeCapabilityExecution, out.Code)
	assert.Contains(t, out.Answer, "interrupted")
	assert.Empty(t, h.records.inserts)
	assert.Zero(t, h.reasoner.callCount())

	saved := h.store.get(t, "t1")
	assert.Equal(t, statex.PhaseDone, saved.Turn.Phase)
	assert.Equal(t, 1, saved.Turn.Writes)

	_, err = h.engine.Resume(context.Background(), "t1")
	require.ErrorIs(t, err, contractx.ErrValidation)
	require.ErrorIs(t, err, statex.ErrNoOpenTurn)
}

func TestNewTurnAbandonsInterruptedTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, final("Olá!"))

	st := statex.NewConversationState("t1", testNow)
	require.NoError(t, st.BeginTurn("turn-1", "quanto gastei?", "2025-01-09", testNow))
	require.NoError(t, h.store.Save(context.Background(), st))

	out, err := h.turn(context.Background(), "t1", "oi")
	require.NoError(t, err)
	assert.Equal(t, "Olá!", out.Answer)
	assert.NotEqual(t, "turn-1", out.TurnID)

	saved := h.store.get(t, "t1")
	found := false
	for _, m := range saved.Messages {
		if m.Role == statex.RoleSystem && m.TurnID == "turn-1" {
			found = true
		}
	}
	assert.True(t, found, "interrupted turn is recorded")
	assert.Equal(t, "2025-01-10", saved.CurrentDate)
}

func TestConcurrentTurnOnBusyThreadIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RejectConcurrentTurns: true}, final("ok"))
	h.reasoner.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.turn(context.Background(), "t1", "primeira")
		done <- err
	}()

	require.Eventually(t, func() bool { return h.engine.locks.size() == 1 }, time.Second, 5*time.Millisecond)
	// wait for the first turn to hold the lock and reach the reasoner
	require.Eventually(t, func() bool {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		return h.store.saves >= 1
	}, time.Second, 5*time.Millisecond)

	_, err := h.turn(context.Background(), "t1", "segunda")
	require.ErrorIs(t, err, contractx.ErrThreadBusy)

	// other threads are not affected
	close(h.reasoner.block)
	out, err := h.turn(context.Background(), "t2", "outra conversa")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Answer)

	require.NoError(t, <-done)
	assert.Zero(t, h.engine.locks.size())
}

func TestCanceledTurnStaysResumable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, final("Tudo certo."))
	h.reasoner.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool {
			h.store.mu.Lock()
			defer h.store.mu.Unlock()
			return h.store.saves >= 1
		}, time.Second, 5*time.Millisecond)
		cancel()
	}()

	_, err := h.turn(ctx, "t1", "quanto gastei?")
	require.ErrorIs(t, err, context.Canceled)

	st := h.store.get(t, "t1")
	require.NotNil(t, st.OpenTurn())

	close(h.reasoner.block)
	out, err := h.engine.Resume(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tudo certo.", out.Answer)
	assert.Equal(t, st.Turn.ID, out.TurnID)
}
