// Package dispatch executes one cycle of capability requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	metricsx "github.com/MLAN1O/atlas/pkg/metrics"
)

type Invoker interface {
	Lookup(name string) (contractx.CapabilityInfo, bool)
	Invoke(ctx context.Context, inv capabilityx.Invocation) contractx.CapabilityResult
}

type Config struct {
	CapabilityTimeout time.Duration `envconfig:"CAPABILITY_TIMEOUT" split_words:"true" default:"30s"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" split_words:"true" default:"4"`
	MaxWritesPerTurn  int           `envconfig:"MAX_WRITES_PER_TURN" split_words:"true" default:"1"`
}

// Env is the turn context a cycle runs in.
type Env struct {
	ThreadID    string
	TurnID      string
	CurrentDate string
	UserText    string
	// WritesUsed is the number of writes already attempted in the turn.
	WritesUsed int
}

type Report struct {
	Results []contractx.CapabilityResult
	// Writes is the number of write attempts made in this cycle.
	Writes int
	// WriteResult is the last write attempt of the cycle, if any.
	WriteResult *contractx.CapabilityResult
}

type Dispatcher struct {
	invoker Invoker
	cfg     Config
}

func New(invoker Invoker, cfg Config) (*Dispatcher, error) {
	if invoker == nil {
		return nil, errors.New("nil invoker")
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.MaxWritesPerTurn <= 0 {
		cfg.MaxWritesPerTurn = 1
	}
	return &Dispatcher{invoker: invoker, cfg: cfg}, nil
}

// Dispatch runs reqs and returns one result per request in request order.
// Consecutive non-write requests run concurrently; each write runs alone, in order.
func (d *Dispatcher) Dispatch(ctx context.Context, env Env, reqs []contractx.CapabilityRequest) Report {
	rep := Report{Results: make([]contractx.CapabilityResult, len(reqs))}
	writes := env.WritesUsed

	for i := 0; i < len(reqs); {
		if d.isWrite(reqs[i].Capability) {
			res := d.runWrite(ctx, env, reqs[i], &writes)
			rep.Results[i] = res
			if res.Code != contractx.CodeSingleWriteViolation && res.Code != contractx.CodeInvalidArguments {
				rep.Writes++
				rep.WriteResult = &rep.Results[i]
			}
			i++
			continue
		}

		j := i
		for j < len(reqs) && !d.isWrite(reqs[j].Capability) {
			j++
		}
		d.runReads(ctx, env, reqs[i:j], rep.Results[i:j])
		i = j
	}
	return rep
}

func (d *Dispatcher) isWrite(name string) bool {
	info, ok := d.invoker.Lookup(name)
	return ok && info.Kind == contractx.KindWrite
}

func (d *Dispatcher) runWrite(ctx context.Context, env Env, req contractx.CapabilityRequest, writes *int) contractx.CapabilityResult {
	if *writes >= d.cfg.MaxWritesPerTurn {
		res := contractx.Failed(req, fmt.Errorf("%w: %s was not executed", contractx.ErrSingleWriteViolation, req.Capability))
		d.observe(env, req, res, 0)
		return res
	}
	res := d.invokeOne(ctx, env, req)
	if res.Code != contractx.CodeInvalidArguments {
		*writes++
	}
	return res
}

func (d *Dispatcher) runReads(ctx context.Context, env Env, reqs []contractx.CapabilityRequest, out []contractx.CapabilityResult) {
	if len(reqs) == 1 {
		out[0] = d.invokeOne(ctx, env, reqs[0])
		return
	}
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxParallel)
	for k := range reqs {
		g.Go(func() error {
			out[k] = d.invokeOne(ctx, env, reqs[k])
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) invokeOne(ctx context.Context, env Env, req contractx.CapabilityRequest) (res contractx.CapabilityResult) {
	start := time.Now()
	callCtx := ctx
	if d.cfg.CapabilityTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CapabilityTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = contractx.Failed(req, fmt.Errorf("%w: panic: %v", contractx.ErrCapabilityExecution, r))
		}
		if !res.Success && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.Code = contractx.CodeTimeout
		}
		d.observe(env, req, res, time.Since(start))
	}()

	return d.invoker.Invoke(callCtx, capabilityx.Invocation{
		Request:     req,
		ThreadID:    env.ThreadID,
		TurnID:      env.TurnID,
		CurrentDate: env.CurrentDate,
		UserText:    env.UserText,
	})
}

func (d *Dispatcher) observe(env Env, req contractx.CapabilityRequest, res contractx.CapabilityResult, elapsed time.Duration) {
	metricsx.ObserveCapability(req.Capability, string(res.Code), elapsed.Seconds())

	ev := log.Debug()
	if !res.Success {
		ev = log.Warn().Str("code", string(res.Code)).Str("error", res.Error)
	}
	ev.Str("thread_id", env.ThreadID).
		Str("turn_id", env.TurnID).
		Str("call_id", req.CallID).
		Str("capability", req.Capability).
		Dur("elapsed", elapsed).
		Msg("capability invoked")
}
