package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	nodex "github.com/MLAN1O/atlas/agent/nodes"
	statex "github.com/MLAN1O/atlas/agent/state"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidThread  = nodex.ErrInvalidThread
)

type Config struct {
	MaxCycles   int           `envconfig:"MAX_CYCLES" split_words:"true" default:"8"`
	TurnTimeout time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"5m"`
	// RejectConcurrentTurns fails a second turn on a busy thread instead of queueing it.
	RejectConcurrentTurns bool `envconfig:"REJECT_CONCURRENT_TURNS" split_words:"true" default:"false"`
}

type Option func(*Engine)

func WithNotifier(n contractx.WriteNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs turns of the conversation state machine. Turns on one thread are serialized.
type Engine struct {
	store      statex.Store
	reasoner   contractx.Reasoner
	caps       nodex.CapabilitySource
	dispatcher nodex.Dispatcher
	notifier   contractx.WriteNotifier
	cfg        Config
	now        func() time.Time

	locks *threadLocks

	handleRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]
	resumeRunner compose.Runnable[nodex.ResumeInput, nodex.GraphOutput]
}

var _ contractx.TurnHandler = (*Engine)(nil)

func New(
	store statex.Store,
	reasoner contractx.Reasoner,
	caps nodex.CapabilitySource,
	dispatcher nodex.Dispatcher,
	cfg Config,
	opts ...Option,
) (*Engine, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if caps == nil {
		return nil, errors.New("capability registry is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = nodex.DefaultMaxCycles
	}

	e := &Engine{
		store:      store,
		reasoner:   reasoner,
		caps:       caps,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		locks:      newThreadLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx := context.Background()
	handleRunner, err := e.compileHandleTurnGraph(ctx)
	if err != nil {
		return nil, err
	}
	resumeRunner, err := e.compileResumeTurnGraph(ctx)
	if err != nil {
		return nil, err
	}
	e.handleRunner = handleRunner
	e.resumeRunner = resumeRunner

	return e, nil
}

// HandleTurn runs one user turn to DONE. Turn-level failures (persistence,
// non-convergence, reasoning) return the answer together with a *contract.TurnError.
func (e *Engine) HandleTurn(ctx context.Context, in contractx.TurnInput) (contractx.TurnOutput, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	return e.run(ctx, threadID, "handle_turn", func(ctx context.Context) (nodex.GraphOutput, error) {
		return e.handleRunner.Invoke(ctx, nodex.GraphInput{
			ThreadID:    threadID,
			UserText:    in.UserText,
			CurrentDate: in.CurrentDate,
		})
	})
}

// Resume continues the open turn of a thread from its last committed cycle.
func (e *Engine) Resume(ctx context.Context, threadID string) (contractx.TurnOutput, error) {
	threadID = strings.TrimSpace(threadID)
	return e.run(ctx, threadID, "resume_turn", func(ctx context.Context) (nodex.GraphOutput, error) {
		return e.resumeRunner.Invoke(ctx, nodex.ResumeInput{ThreadID: threadID})
	})
}

func (e *Engine) run(
	ctx context.Context,
	threadID string,
	op string,
	invoke func(context.Context) (nodex.GraphOutput, error),
) (contractx.TurnOutput, error) {
	release, err := e.locks.acquire(ctx, threadID, e.cfg.RejectConcurrentTurns)
	if err != nil {
		return contractx.TurnOutput{ThreadID: threadID}, err
	}
	defer release()

	if e.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := invoke(ctx)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Str("op", op).Msg("turn rejected")
		return contractx.TurnOutput{ThreadID: threadID, Code: contractx.CodeOf(err)}, err
	}

	ev := log.Info()
	if out.Failure != nil {
		ev = log.Warn().Err(out.Failure)
	}
	ev.Str("thread_id", threadID).
		Str("turn_id", out.Output.TurnID).
		Str("op", op).
		Str("intent", string(out.Output.Intent)).
		Int("cycles", out.Output.Cycles).
		Dur("elapsed", time.Since(start)).
		Msg("turn finished")

	return out.Output, out.Failure
}

func (e *Engine) deps() nodex.Deps {
	return nodex.Deps{
		Store:      e.store,
		Reasoner:   e.reasoner,
		Caps:       e.caps,
		Dispatcher: e.dispatcher,
		Notifier:   e.notifier,
		MaxCycles:  e.cfg.MaxCycles,
		Now:        e.now,
	}
}
