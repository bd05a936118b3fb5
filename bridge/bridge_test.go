package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hookweave/hookweave/events"
	"github.com/hookweave/hookweave/hooks"
)

// fakeRuntime is a cooperative script runtime stub. Each registered
// function takes a fixed number of resume steps before producing its
// result, which exercises the bridge's step-driving loop.
type fakeRuntime struct {
	fns map[string]fakeFn
}

type fakeFn struct {
	steps  int
	result func(arg any) (any, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{fns: make(map[string]fakeFn)}
}

func (r *fakeRuntime) register(name string, steps int, result func(arg any) (any, error)) {
	r.fns[name] = fakeFn{steps: steps, result: result}
}

func (r *fakeRuntime) Name() string { return "fakescript" }

func (r *fakeRuntime) Marshal(v any) (Value, error) { return v, nil }

func (r *fakeRuntime) Unmarshal(v Value, into any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

func (r *fakeRuntime) Invoke(_ context.Context, fn string, arg Value) (Invocation, error) {
	f, ok := r.fns[fn]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", fn)
	}
	return &fakeInvocation{fn: f, arg: arg}, nil
}

type fakeInvocation struct {
	fn      fakeFn
	arg     any
	stepped int
	result  any
	err     error
}

func (i *fakeInvocation) Step(context.Context) (bool, error) {
	if i.stepped < i.fn.steps {
		i.stepped++
		return false, nil
	}
	i.result, i.err = i.fn.result(i.arg)
	return true, nil
}

func (i *fakeInvocation) Result() (Value, error) { return i.result, i.err }

func TestScriptHookExecutesThroughDispatcher(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("rewrite_prompt", 3, func(arg any) (any, error) {
		call, ok := arg.(hookCall)
		require.True(t, ok)
		require.Equal(t, "before_llm_call", call.Point)
		require.Equal(t, "agent-7", call.EntityID)
		return map[string]any{
			"modifications": map[string]any{"prompt": "rewritten"},
			"meta":          map[string]any{"script": "rewrite_prompt"},
		}, nil
	})

	d := hooks.NewDispatcher()
	require.NoError(t, d.Register(hooks.BeforeLLMCall,
		NewScriptHook(rt, "rewriter", "rewrite_prompt", hooks.Meta{Priority: 40})))

	hc := hooks.NewContext(hooks.BeforeLLMCall, "agent-7", "original prompt")
	res, err := d.Dispatch(context.Background(), hooks.BeforeLLMCall, hc)
	require.NoError(t, err)
	require.Len(t, res.Hooks, 1)
	require.NoError(t, res.Hooks[0].Err)

	v, ok := res.Context.Get("prompt")
	require.True(t, ok)
	require.Equal(t, "rewritten", v)
}

func TestScriptHookNilReturnIsContinue(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("observer", 1, func(any) (any, error) { return nil, nil })

	h := NewScriptHook(rt, "obs", "observer", hooks.Meta{})
	out, err := h.Execute(context.Background(), hooks.NewContext(hooks.AfterToolCall, "e", nil))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Empty(t, out.Modifications)
}

func TestScriptHookVetoOutcome(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("guard", 0, func(any) (any, error) {
		return map[string]any{"success": false}, nil
	})

	h := NewScriptHook(rt, "guard", "guard", hooks.Meta{})
	out, err := h.Execute(context.Background(), hooks.NewContext(hooks.BeforeToolCall, "e", nil))
	require.NoError(t, err)
	require.False(t, out.Success)
}

func TestScriptErrorsConvertAtTheBoundary(t *testing.T) {
	rt := newFakeRuntime()
	scriptErr := errors.New("attempt to index a nil value")
	rt.register("broken", 2, func(any) (any, error) { return nil, scriptErr })

	h := NewScriptHook(rt, "broken", "broken", hooks.Meta{})
	_, err := h.Execute(context.Background(), hooks.NewContext(hooks.OnError, "e", nil))
	require.ErrorIs(t, err, scriptErr)
	require.ErrorContains(t, err, "fakescript")

	// Through the dispatcher the error is captured, never fatal.
	d := hooks.NewDispatcher()
	require.NoError(t, d.Register(hooks.OnError, h))
	res, err := d.Dispatch(context.Background(), hooks.OnError, nil)
	require.NoError(t, err)
	require.ErrorContains(t, res.Hooks[0].Err, "nil value")
}

func TestScriptHooksAreNeverParallelSafe(t *testing.T) {
	rt := newFakeRuntime()
	h := NewScriptHook(rt, "coop", "fn", hooks.Meta{
		ParallelSafe: true,
		Mode:         hooks.ModeParallelGroup,
	})
	require.False(t, h.Meta().ParallelSafe)
	require.Equal(t, hooks.ModeSequential, h.Meta().Mode)
}

func TestStepBudgetCatchesRunawayScripts(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("spin", 1000, func(any) (any, error) { return nil, nil })

	h := NewScriptHook(rt, "spin", "spin", hooks.Meta{}, WithMaxSteps(10))
	_, err := h.Execute(context.Background(), hooks.NewContext(hooks.BeforeToolCall, "e", nil))
	require.ErrorIs(t, err, ErrTooManySteps)
}

func TestDriveHonorsContextCancellation(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("slow", 1_000_000, func(any) (any, error) { return nil, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewScriptHook(rt, "slow", "slow", hooks.Meta{}, WithMaxSteps(0))
	_, err := h.Execute(ctx, hooks.NewContext(hooks.BeforeToolCall, "e", nil))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScriptSubscriberDeliversEvents(t *testing.T) {
	rt := newFakeRuntime()
	var seen eventCall
	rt.register("on_event", 2, func(arg any) (any, error) {
		call, ok := arg.(eventCall)
		if !ok {
			return nil, errors.New("unexpected argument shape")
		}
		seen = call
		return nil, nil
	})

	b := events.NewBus()
	_, err := b.Subscribe("agent.*", NewScriptSubscriber(rt, "script-sub", "on_event"))
	require.NoError(t, err)

	res, err := b.Emit(context.Background(), events.New("agent.started", "payload", events.WithSource("runtime")))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, events.StatusDelivered, res.Outcomes[0].Status)
	require.Equal(t, "agent.started", seen.Type)
	require.Equal(t, res.Sequence, seen.Sequence)
}

func TestScriptSubscriberErrorIsDeliveryFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.register("on_event", 0, func(any) (any, error) {
		return nil, errors.New("handler raised")
	})

	b := events.NewBus()
	_, err := b.Subscribe("*", NewScriptSubscriber(rt, "script-sub", "on_event"))
	require.NoError(t, err)

	res, err := b.Emit(context.Background(), events.New("any", nil))
	require.NoError(t, err)
	require.Equal(t, events.StatusFailed, res.Outcomes[0].Status)
	require.ErrorContains(t, res.Outcomes[0].Err, "handler raised")
}
