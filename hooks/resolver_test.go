package hooks

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// recordingHook registers a hook that appends its name to the shared order
// slice when executed.
func recordingHook(name string, meta Meta, mu *sync.Mutex, order *[]string) Hook {
	return NewFunc(name, meta, func(_ context.Context, _ *Context) (*Outcome, error) {
		mu.Lock()
		*order = append(*order, name)
		mu.Unlock()
		return Continue(), nil
	})
}

// TestResolvedOrderIsPriorityDescending verifies Property 1: for hooks with
// no declared dependencies, sequential dispatch runs them in descending
// priority order with ties broken by registration order.
func TestResolvedOrderIsPriorityDescending(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("unconstrained hooks run priority-descending, ties by registration", prop.ForAll(
		func(priorities []int) bool {
			d := NewDispatcher()
			var mu sync.Mutex
			var order []string
			for i, p := range priorities {
				name := fmt.Sprintf("h%d", i)
				if err := d.Register(BeforeLLMCall, recordingHook(name, Meta{Priority: p}, &mu, &order)); err != nil {
					return false
				}
			}
			if _, err := d.Dispatch(context.Background(), BeforeLLMCall, nil); err != nil {
				return false
			}

			type reg struct {
				name     string
				priority int
				index    int
			}
			expected := make([]reg, len(priorities))
			for i, p := range priorities {
				expected[i] = reg{name: fmt.Sprintf("h%d", i), priority: p, index: i}
			}
			sort.SliceStable(expected, func(a, b int) bool {
				if expected[a].priority != expected[b].priority {
					return expected[a].priority > expected[b].priority
				}
				return expected[a].index < expected[b].index
			})
			if len(order) != len(expected) {
				return false
			}
			for i := range expected {
				if order[i] != expected[i].name {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-100, 100)),
	))

	properties.TestingRun(t)
}

// TestResolvedOrderSatisfiesDependencies verifies Property 2: for any
// acyclic dependency graph, every hook runs after all of its declared
// dependencies.
func TestResolvedOrderSatisfiesDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every dependency executes before its dependent", prop.ForAll(
		func(n int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			deps := make(map[string][]string, n)
			names := make([]string, n)
			for i := 0; i < n; i++ {
				names[i] = fmt.Sprintf("h%d", i)
				// Edges only point at earlier registrations, so the graph
				// is acyclic by construction.
				for j := 0; j < i; j++ {
					if rng.Intn(3) == 0 {
						deps[names[i]] = append(deps[names[i]], names[j])
					}
				}
			}

			d := NewDispatcher()
			var mu sync.Mutex
			var order []string
			for i, name := range names {
				meta := Meta{Priority: rng.Intn(200) - 100, Dependencies: deps[name]}
				if err := d.Register(BeforeToolCall, recordingHook(name, meta, &mu, &order)); err != nil {
					return false
				}
				_ = i
			}
			if _, err := d.Dispatch(context.Background(), BeforeToolCall, nil); err != nil {
				return false
			}

			pos := make(map[string]int, len(order))
			for i, name := range order {
				pos[name] = i
			}
			for dependent, required := range deps {
				for _, dep := range required {
					if pos[dep] >= pos[dependent] {
						return false
					}
				}
			}
			return len(order) == n
		},
		gen.IntRange(1, 12),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestCyclicDependenciesAlwaysFail verifies Property 3: a dependency cycle
// of any length yields a cycle error and never a partial execution.
func TestCyclicDependenciesAlwaysFail(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a dependency ring never dispatches", prop.ForAll(
		func(n int) bool {
			d := NewDispatcher()
			var mu sync.Mutex
			var order []string
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("h%d", i)
				next := fmt.Sprintf("h%d", (i+1)%n)
				meta := Meta{Dependencies: []string{next}}
				if err := d.Register(AfterToolCall, recordingHook(name, meta, &mu, &order)); err != nil {
					return false
				}
			}
			_, err := d.Dispatch(context.Background(), AfterToolCall, nil)
			var cycErr *CyclicDependencyError
			return errors.As(err, &cycErr) && len(order) == 0 && len(cycErr.Cycle) > 0
		},
		gen.IntRange(2, 8),
	))

	properties.TestingRun(t)
}

func TestUnknownDependencyFailsResolution(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(BeforeLLMCall, NewFunc("lonely", Meta{Dependencies: []string{"ghost"}},
		func(context.Context, *Context) (*Outcome, error) { return Continue(), nil })))

	_, err := d.Dispatch(context.Background(), BeforeLLMCall, nil)
	var depErr *UnknownDependencyError
	require.ErrorAs(t, err, &depErr)
	require.Equal(t, "lonely", depErr.Hook)
	require.Equal(t, "ghost", depErr.Dependency)
}
