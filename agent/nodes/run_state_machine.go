package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	dispatchx "github.com/MLAN1O/atlas/agent/dispatch"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/rs/zerolog/log"
)

const DefaultMaxCycles = 8

const (
	nonConvergenceAnswer = "The workflow did not converge after %d steps. Please rephrase the request or split it into smaller ones."
	reasoningAnswer      = "I could not process this request right now. Please try again."
	ambiguousAnswer      = "Your request asks for more than one change (%s). Please ask for one change at a time."
	persistenceAnswer    = "Your request was processed, but the conversation could not be saved. Please try again."
)

type Dispatcher interface {
	Dispatch(ctx context.Context, env dispatchx.Env, reqs []contractx.CapabilityRequest) dispatchx.Report
}

// Deps are the collaborators of the state machine.
type Deps struct {
	Store      statex.Store
	Reasoner   contractx.Reasoner
	Caps       CapabilitySource
	Dispatcher Dispatcher
	Notifier   contractx.WriteNotifier
	MaxCycles  int
	Now        func() time.Time
}

// RunStateMachine alternates REASONING and DISPATCHING until the open turn is DONE.
// It returns an error only when the turn cannot continue at all (cancellation);
// the turn then stays open at its last committed phase.
func RunStateMachine(ctx context.Context, in *GraphState, deps Deps) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if deps.MaxCycles <= 0 {
		deps.MaxCycles = DefaultMaxCycles
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &machine{deps: deps, in: in, st: in.State, replay: in.Resumed}
	if err := m.run(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

type machine struct {
	deps Deps
	in   *GraphState
	st   *statex.ConversationState
	// replay is set for the first cycle of a resumed turn.
	replay bool
}

func (m *machine) run(ctx context.Context) error {
	for {
		t := m.st.OpenTurn()
		if t == nil {
			return nil
		}

		var err error
		switch t.Phase {
		case statex.PhaseReasoning:
			err = m.reason(ctx, t)
		case statex.PhaseDispatching:
			err = m.dispatch(ctx, t)
		default:
			err = fmt.Errorf("%w: phase=%s", statex.ErrInvalidPhase, t.Phase)
		}
		if err != nil {
			return err
		}
	}
}

func (m *machine) reason(ctx context.Context, t *statex.Turn) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("turn %s interrupted: %w", t.ID, err)
	}
	m.replay = false

	if t.Cycles >= m.deps.MaxCycles {
		err := fmt.Errorf("%w: %d cycles without a final answer", contractx.ErrNonConvergence, t.Cycles)
		answer := fmt.Sprintf(nonConvergenceAnswer, t.Cycles)
		if t.WriteOutcome != "" {
			answer = m.reportAnswer(ctx, t)
		}
		m.finish(ctx, t, answer, contractx.CodeNonConvergence, contractx.NewTurnError(err))
		return nil
	}

	dec, err := m.deps.Reasoner.Reason(ctx, contractx.ReasonRequest{
		State:        m.st,
		Capabilities: m.deps.Caps.Infos(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("turn %s interrupted: %w", t.ID, ctxErr)
		}
		log.Warn().Err(err).Str("thread_id", m.st.ThreadID).Str("turn_id", t.ID).Int("cycle", t.Cycles).Msg("reasoning failed")

		m.st.AppendSystem(string(contractx.CodeReasoning)+": "+err.Error(), m.deps.Now())
		answer := reasoningAnswer
		if t.WriteOutcome != "" {
			answer = m.reportAnswer(ctx, t)
		}
		turnErr := contractx.NewTurnError(fmt.Errorf("%w: %w", contractx.ErrReasoning, err))
		m.finish(ctx, t, answer, turnErr.Code, turnErr)
		return nil
	}

	if dec.IsFinal() {
		answer := dec.Final
		switch {
		case t.WriteOutcome != "":
			answer = m.reportAnswer(ctx, t)
		case t.QueryOutcome != "":
			answer = m.queryAnswer(ctx, t, dec.Final)
		}
		m.finish(ctx, t, answer, "", nil)
		return nil
	}

	intent, writes := classifyBatch(dec.Actions, m.deps.Caps)
	if intent == contractx.IntentAmbiguous {
		t.Intent = string(contractx.IntentAmbiguous)
		answer := fmt.Sprintf(ambiguousAnswer, strings.Join(writes, ", "))
		if t.WriteOutcome != "" {
			// the write already done this turn is still reported
			answer = m.reportAnswer(ctx, t)
		}
		m.finish(ctx, t, answer, contractx.CodeAmbiguousIntent, nil)
		return nil
	}
	t.Intent = mergeIntent(t.Intent, intent)

	if err := m.st.RequestActions(dec.Actions, m.deps.Now()); err != nil {
		return err
	}
	log.Debug().
		Str("thread_id", m.st.ThreadID).
		Str("turn_id", t.ID).
		Int("cycle", t.Cycles).
		Int("actions", len(dec.Actions)).
		Msg("actions requested")
	m.save(ctx, t)
	return nil
}

func (m *machine) dispatch(ctx context.Context, t *statex.Turn) error {
	pending := append([]contractx.CapabilityRequest(nil), m.st.PendingActions...)

	var rep dispatchx.Report
	if m.replay {
		rep = m.redispatch(ctx, t, pending)
		m.replay = false
	} else {
		rep = m.deps.Dispatcher.Dispatch(ctx, m.env(t), pending)
	}

	now := m.deps.Now()
	var written *contractx.CapabilityResult
	// a report requested in the same batch as a new outcome cannot describe it
	fresh := false
	for i := range rep.Results {
		res := rep.Results[i]
		obs := res.Observation()
		m.st.AppendObservation(res.CallID, res.Capability, obs, !res.Success, string(res.Code), now)

		switch {
		case rep.WriteResult == &rep.Results[i]:
			t.WriteOutcome = obs
			t.Report = ""
			written = &rep.Results[i]
			fresh = true
		case res.Capability == capabilityx.NameQuery && res.Success:
			t.QueryOutcome = obs
			if t.WriteOutcome == "" {
				t.Report = ""
				fresh = true
			}
		}
	}
	if !fresh && (t.WriteOutcome != "" || t.QueryOutcome != "") {
		for _, res := range rep.Results {
			if text, ok := reportText(res); ok {
				t.Report = text
			}
		}
	}
	if err := m.st.CompleteCycle(rep.Writes, now); err != nil {
		return err
	}
	if written != nil {
		m.notify(ctx, t, *written)
	}

	if written != nil && !written.Success {
		// a failed write ends the turn with its failure report
		m.finish(ctx, t, m.reportAnswer(ctx, t), written.Code, nil)
		return nil
	}
	m.save(ctx, t)
	return nil
}

// redispatch re-runs the reads of an interrupted cycle. Its writes may already
// have reached the store, so they are never replayed.
func (m *machine) redispatch(ctx context.Context, t *statex.Turn, pending []contractx.CapabilityRequest) dispatchx.Report {
	rep := dispatchx.Report{Results: make([]contractx.CapabilityResult, len(pending))}

	reads := make([]contractx.CapabilityRequest, 0, len(pending))
	readIdx := make([]int, 0, len(pending))
	writeIdx := -1
	for i, req := range pending {
		if isWrite(m.deps.Caps, req.Capability) {
			rep.Results[i] = contractx.Failed(req, fmt.Errorf("%w: interrupted before its outcome was recorded", contractx.ErrCapabilityExecution))
			rep.Writes++
			writeIdx = i
			continue
		}
		reads = append(reads, req)
		readIdx = append(readIdx, i)
	}
	if len(reads) > 0 {
		sub := m.deps.Dispatcher.Dispatch(ctx, m.env(t), reads)
		for j, res := range sub.Results {
			rep.Results[readIdx[j]] = res
		}
	}
	if writeIdx >= 0 {
		rep.WriteResult = &rep.Results[writeIdx]
	}
	return rep
}

func (m *machine) env(t *statex.Turn) dispatchx.Env {
	return dispatchx.Env{
		ThreadID:    m.st.ThreadID,
		TurnID:      t.ID,
		CurrentDate: t.CurrentDate,
		UserText:    t.UserText,
		WritesUsed:  t.Writes,
	}
}

// save commits the state after a step. A failed save ends the turn.
func (m *machine) save(ctx context.Context, t *statex.Turn) {
	if err := SaveState(ctx, m.deps.Store, m.st, m.deps.Now()); err != nil {
		m.failPersistence(t, persistenceAnswer, err)
	}
}

func (m *machine) finish(ctx context.Context, t *statex.Turn, answer string, code contractx.ErrorCode, failure *contractx.TurnError) {
	now := m.deps.Now()
	if err := m.st.CloseTurn(answer, string(code), now); err != nil {
		log.Error().Err(err).Str("thread_id", m.st.ThreadID).Str("turn_id", t.ID).Msg("turn not closed")
	}

	m.in.Answer = answer
	m.in.Code = code
	if failure != nil {
		m.in.Failure = failure
	}

	if err := SaveState(ctx, m.deps.Store, m.st, now); err != nil {
		m.failPersistence(t, answer, err)
	}
}

func (m *machine) failPersistence(t *statex.Turn, answer string, err error) {
	log.Error().Err(err).Str("thread_id", m.st.ThreadID).Str("turn_id", t.ID).Msg("conversation state not saved")

	if t.IsOpen() {
		if cerr := m.st.CloseTurn(answer, string(contractx.CodePersistence), m.deps.Now()); cerr != nil {
			log.Error().Err(cerr).Str("thread_id", m.st.ThreadID).Str("turn_id", t.ID).Msg("turn not closed")
		}
		m.in.Answer = answer
	}
	m.in.Code = contractx.CodePersistence
	m.in.Failure = contractx.NewTurnError(err)
}

func (m *machine) notify(ctx context.Context, t *statex.Turn, res contractx.CapabilityResult) {
	if m.deps.Notifier == nil {
		return
	}
	ev := writeEvent(m.st.ThreadID, t.ID, res, m.deps.Now())
	if err := m.deps.Notifier.NotifyWrite(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("thread_id", ev.ThreadID).Str("turn_id", ev.TurnID).Msg("write notification failed")
	}
}
