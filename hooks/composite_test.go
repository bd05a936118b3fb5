package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func child(name string, out *Outcome, err error) Hook {
	return NewFunc(name, Meta{}, func(context.Context, *Context) (*Outcome, error) {
		return out, err
	})
}

func TestCompositeSequentialMergesAndStopsOnVeto(t *testing.T) {
	c := NewComposite("chain", PatternSequential, []Hook{
		child("first", Modified(map[string]any{"a": 1}), nil),
		child("veto", &Outcome{Success: false, Modifications: map[string]any{"b": 2}}, nil),
		child("never", Modified(map[string]any{"c": 3}), nil),
	})

	out, err := c.Execute(context.Background(), NewContext(BeforeLLMCall, "e", nil))
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, 1, out.Modifications["a"])
	require.Equal(t, 2, out.Modifications["b"])
	require.NotContains(t, out.Modifications, "c")
}

func TestCompositeChildErrorSurfacesWithNames(t *testing.T) {
	boom := errors.New("child broke")
	c := NewComposite("chain", PatternSequential, []Hook{
		child("ok", Continue(), nil),
		child("bad", nil, boom),
	})

	_, err := c.Execute(context.Background(), NewContext(BeforeLLMCall, "e", nil))
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, `"chain"`)
	require.ErrorContains(t, err, `"bad"`)
}

func TestCompositeParallelRunsChildrenConcurrently(t *testing.T) {
	slow := func(name, key string) Hook {
		return NewFunc(name, Meta{}, func(ctx context.Context, _ *Context) (*Outcome, error) {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return Modified(map[string]any{key: true}), nil
		})
	}
	c := NewComposite("fanout", PatternParallel, []Hook{
		slow("s1", "k1"), slow("s2", "k2"), slow("s3", "k3"),
	})

	start := time.Now()
	out, err := c.Execute(context.Background(), NewContext(AfterToolCall, "e", nil))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 140*time.Millisecond)
	require.True(t, out.Success)
	require.Len(t, out.Modifications, 3)
}

func TestCompositeFirstMatchReturnsFirstDecisiveOutcome(t *testing.T) {
	c := NewComposite("router", PatternFirstMatch, []Hook{
		child("pass", Continue(), nil),
		child("decide", Modified(map[string]any{"route": "b"}), nil),
		child("later", Modified(map[string]any{"route": "c"}), nil),
	})

	out, err := c.Execute(context.Background(), NewContext(BeforeToolCall, "e", nil))
	require.NoError(t, err)
	require.Equal(t, "b", out.Modifications["route"])
}

func TestCompositeFirstMatchFallsThroughToContinue(t *testing.T) {
	c := NewComposite("router", PatternFirstMatch, []Hook{
		child("pass1", Continue(), nil),
		child("pass2", nil, nil),
	})

	out, err := c.Execute(context.Background(), NewContext(BeforeToolCall, "e", nil))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Empty(t, out.Modifications)
}

func TestCompositeVotingThreshold(t *testing.T) {
	approve := child("yes", Continue(), nil)
	reject := child("no", &Outcome{Success: false}, nil)

	// Two of three approve at the default 0.5 threshold.
	c := NewComposite("quorum", PatternVoting, []Hook{approve, approve, reject})
	out, err := c.Execute(context.Background(), NewContext(BeforeAgentExecution, "e", nil))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, 2, out.Meta["votes"])
	require.Equal(t, 2, out.Meta["votes_required"])

	// A unanimous threshold fails with one rejection.
	strict := NewComposite("unanimous", PatternVoting, []Hook{approve, approve, reject},
		WithVotingThreshold(1.0))
	out, err = strict.Execute(context.Background(), NewContext(BeforeAgentExecution, "e", nil))
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, 3, out.Meta["votes_required"])
}

func TestEmptyCompositeIsANoop(t *testing.T) {
	c := NewComposite("empty", PatternSequential, nil)
	out, err := c.Execute(context.Background(), NewContext(OnError, "e", nil))
	require.NoError(t, err)
	require.True(t, out.Success)
}

func TestCompositeRegistersAsOneHook(t *testing.T) {
	d := NewDispatcher()
	c := NewComposite("guardrails", PatternSequential, []Hook{
		child("length", Modified(map[string]any{"max_tokens": 512}), nil),
		child("policy", Continue(), nil),
	}, WithCompositeMeta(Meta{Priority: 80}))
	require.NoError(t, d.Register(BeforeLLMCall, c))

	res, err := d.Dispatch(context.Background(), BeforeLLMCall, NewContext(BeforeLLMCall, "agent", nil))
	require.NoError(t, err)
	require.Len(t, res.Hooks, 1)
	v, ok := res.Context.Get("max_tokens")
	require.True(t, ok)
	require.Equal(t, 512, v)
}
