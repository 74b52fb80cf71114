package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type fakeInvoker struct {
	mu        sync.Mutex
	calls     []string
	inflight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
	panicOn   string
	slow      string
}

func (f *fakeInvoker) Lookup(name string) (contractx.CapabilityInfo, bool) {
	switch name {
	case "insert", "update", "delete":
		return contractx.CapabilityInfo{Name: name, Kind: contractx.KindWrite}, true
	case "query", "similarity_search", "calculate":
		return contractx.CapabilityInfo{Name: name, Kind: contractx.KindRead}, true
	}
	return contractx.CapabilityInfo{}, false
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv capabilityx.Invocation) contractx.CapabilityResult {
	req := inv.Request
	if _, ok := f.Lookup(req.Capability); !ok {
		return contractx.Failed(req, contractx.ErrUnknownCapability)
	}

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		old := f.maxFlight.Load()
		if n <= old || f.maxFlight.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.CallID)
	f.mu.Unlock()

	if req.Capability == f.panicOn {
		panic("boom")
	}
	if req.Capability == f.slow {
		<-ctx.Done()
		return contractx.Failed(req, ctx.Err())
	}
	time.Sleep(f.delay)
	return contractx.Succeeded(req, map[string]any{"call": req.CallID})
}

func reqs(names ...string) []contractx.CapabilityRequest {
	out := make([]contractx.CapabilityRequest, 0, len(names))
	for i, n := range names {
		out = append(out, contractx.CapabilityRequest{CallID: string(rune('a' + i)), Capability: n})
	}
	return out
}

func newTestDispatcher(t *testing.T, inv Invoker, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(inv, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestDispatchPreservesOrderAndRunsReadsConcurrently(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{delay: 30 * time.Millisecond}
	d := newTestDispatcher(t, inv, Config{MaxParallel: 4})

	rep := d.Dispatch(context.Background(), Env{ThreadID: "t"}, reqs("query", "similarity_search", "calculate", "query"))
	if len(rep.Results) != 4 {
		t.Fatalf("len(Results) = %d, want 4", len(rep.Results))
	}
	for i, res := range rep.Results {
		want := string(rune('a' + i))
		if res.CallID != want || !res.Success {
			t.Fatalf("Results[%d] = %+v, want success for call %s", i, res, want)
		}
	}
	if inv.maxFlight.Load() < 2 {
		t.Fatalf("max in-flight = %d, want concurrent reads", inv.maxFlight.Load())
	}
	if rep.Writes != 0 || rep.WriteResult != nil {
		t.Fatalf("Writes = %d, want 0", rep.Writes)
	}
}

func TestDispatchSingleWriteLaw(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	d := newTestDispatcher(t, inv, Config{})

	rep := d.Dispatch(context.Background(), Env{}, reqs("insert", "update"))
	if !rep.Results[0].Success {
		t.Fatalf("first write failed: %+v", rep.Results[0])
	}
	if rep.Results[1].Code != contractx.CodeSingleWriteViolation {
		t.Fatalf("second write code = %q, want %q", rep.Results[1].Code, contractx.CodeSingleWriteViolation)
	}
	if rep.Writes != 1 || rep.WriteResult == nil || rep.WriteResult.CallID != "a" {
		t.Fatalf("Writes = %d WriteResult = %+v", rep.Writes, rep.WriteResult)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("invoker calls = %v, want only the first write", inv.calls)
	}

	rep = d.Dispatch(context.Background(), Env{WritesUsed: 1}, reqs("delete"))
	if rep.Results[0].Code != contractx.CodeSingleWriteViolation {
		t.Fatalf("write after budget code = %q", rep.Results[0].Code)
	}
}

func TestDispatchUnknownCapability(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeInvoker{}, Config{})
	rep := d.Dispatch(context.Background(), Env{}, reqs("drop_everything"))
	if rep.Results[0].Success || rep.Results[0].Code != contractx.CodeUnknownCapability {
		t.Fatalf("result = %+v, want UNKNOWN_CAPABILITY", rep.Results[0])
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeInvoker{panicOn: "calculate"}, Config{})
	rep := d.Dispatch(context.Background(), Env{}, reqs("calculate", "query"))
	if rep.Results[0].Code != contractx.CodeCapabilityExecution {
		t.Fatalf("panic result = %+v", rep.Results[0])
	}
	if !rep.Results[1].Success {
		t.Fatalf("sibling result = %+v, want success", rep.Results[1])
	}
}

func TestDispatchPerCallTimeout(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeInvoker{slow: "query"}, Config{CapabilityTimeout: 20 * time.Millisecond})
	rep := d.Dispatch(context.Background(), Env{}, reqs("query"))
	if rep.Results[0].Code != contractx.CodeTimeout {
		t.Fatalf("result = %+v, want TIMEOUT", rep.Results[0])
	}
}
