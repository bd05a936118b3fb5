// Package bridge adapts hooks and event subscribers hosted in cooperatively
// scheduled script runtimes to the native dispatcher and bus contracts. The
// adapter owns all marshaling between native values and the runtime's
// representation, drives cooperative functions to completion in bounded
// resume steps that yield between iterations, and converts script-level
// errors to native errors at the boundary so they never cross as unhandled
// faults.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

type (
	// Value is a script-runtime value. The concrete representation belongs
	// to the runtime; the bridge only passes it through.
	Value any

	// ScriptRuntime hosts script functions the bridge can invoke. A runtime
	// is typically single-threaded and cooperative: an invocation makes
	// progress only when stepped.
	ScriptRuntime interface {
		// Name identifies the runtime in errors and logs.
		Name() string
		// Marshal converts a native value to the runtime's representation.
		Marshal(v any) (Value, error)
		// Unmarshal converts a runtime value into the pointed-to native
		// value.
		Unmarshal(v Value, into any) error
		// Invoke begins executing the named function with the given
		// argument and returns the in-progress invocation. Invoke itself
		// must not block on script execution.
		Invoke(ctx context.Context, fn string, arg Value) (Invocation, error)
	}

	// Invocation is one in-progress script call. Step resumes the function
	// for a bounded slice of work and reports whether it finished; Result
	// is valid once Step has reported done.
	Invocation interface {
		Step(ctx context.Context) (done bool, err error)
		Result() (Value, error)
	}

	// driveOptions bound the cooperative drive loop.
	driveOptions struct {
		maxSteps  int
		stepDelay time.Duration
	}

	// DriveOption tunes how the bridge steps cooperative invocations.
	DriveOption func(*driveOptions)
)

// DefaultMaxSteps bounds a single invocation's resume steps before the
// bridge gives up, catching runaway scripts that never finish.
const DefaultMaxSteps = 100000

// ErrTooManySteps reports an invocation that did not complete within the
// step budget.
var ErrTooManySteps = errors.New("bridge: invocation exceeded step budget")

// WithMaxSteps overrides the resume step budget. Non-positive means
// unbounded.
func WithMaxSteps(n int) DriveOption {
	return func(o *driveOptions) { o.maxSteps = n }
}

// WithStepDelay sleeps between resume steps instead of just yielding,
// trading script latency for scheduler headroom.
func WithStepDelay(d time.Duration) DriveOption {
	return func(o *driveOptions) { o.stepDelay = d }
}

// drive steps an invocation to completion, yielding the processor between
// steps so a long-running script cannot starve sibling goroutines. Script
// errors surface as native errors tagged with the runtime name.
func drive(ctx context.Context, rt ScriptRuntime, inv Invocation, opts driveOptions) (Value, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := inv.Step(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rt.Name(), err)
		}
		if done {
			break
		}
		steps++
		if opts.maxSteps > 0 && steps >= opts.maxSteps {
			return nil, fmt.Errorf("%s after %d steps: %w", rt.Name(), steps, ErrTooManySteps)
		}
		if opts.stepDelay > 0 {
			timer := time.NewTimer(opts.stepDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		} else {
			runtime.Gosched()
		}
	}
	v, err := inv.Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rt.Name(), err)
	}
	return v, nil
}

func newDriveOptions(opts []DriveOption) driveOptions {
	o := driveOptions{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
