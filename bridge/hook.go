package bridge

import (
	"context"
	"fmt"

	"github.com/hookweave/hookweave/hooks"
)

type (
	// ScriptHook exposes a script-hosted function as a hooks.Hook. The
	// dispatcher sees the same contract as a native hook; the script's
	// cooperative execution is driven entirely inside Execute.
	ScriptHook struct {
		rt   ScriptRuntime
		name string
		fn   string
		meta hooks.Meta
		opts driveOptions
	}

	// hookCall is the native-to-script argument shape.
	hookCall struct {
		Point    string         `json:"point"`
		EntityID string         `json:"entity_id"`
		Payload  any            `json:"payload"`
		Values   map[string]any `json:"values"`
	}

	// hookReturn is the script-to-native result shape. A script that
	// returns nothing yields a plain continue outcome.
	hookReturn struct {
		Success       *bool          `json:"success"`
		Modifications map[string]any `json:"modifications"`
		Meta          map[string]any `json:"meta"`
	}
)

// NewScriptHook wraps the script function fn hosted by rt as a hook. The
// hook name identifies it within its point; meta carries ordering and
// execution hints exactly as for native hooks. Script hooks are never
// parallel-safe: cooperative runtimes are single-threaded, so the meta's
// ParallelSafe flag is forced off.
func NewScriptHook(rt ScriptRuntime, name, fn string, meta hooks.Meta, opts ...DriveOption) *ScriptHook {
	meta.ParallelSafe = false
	if meta.Mode == hooks.ModeParallelGroup {
		meta.Mode = hooks.ModeSequential
	}
	return &ScriptHook{
		rt:   rt,
		name: name,
		fn:   fn,
		meta: meta,
		opts: newDriveOptions(opts),
	}
}

// Name returns the hook name.
func (h *ScriptHook) Name() string { return h.name }

// Meta returns the hook's ordering and execution hints.
func (h *ScriptHook) Meta() hooks.Meta { return h.meta }

// Execute marshals the context into the script runtime, drives the function
// to completion, and converts its return value into an outcome. A script
// error comes back as a regular execution error: the dispatcher captures it
// like any native hook failure.
func (h *ScriptHook) Execute(ctx context.Context, hc *hooks.Context) (*hooks.Outcome, error) {
	arg, err := h.rt.Marshal(hookCall{
		Point:    string(hc.Point()),
		EntityID: hc.EntityID(),
		Payload:  hc.Payload(),
		Values:   hc.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal hook context for %s: %w", h.fn, err)
	}
	inv, err := h.rt.Invoke(ctx, h.fn, arg)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", h.fn, err)
	}
	v, err := drive(ctx, h.rt, inv, h.opts)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", h.fn, err)
	}
	if v == nil {
		return hooks.Continue(), nil
	}

	var ret hookReturn
	if err := h.rt.Unmarshal(v, &ret); err != nil {
		return nil, fmt.Errorf("unmarshal result of %s: %w", h.fn, err)
	}
	out := &hooks.Outcome{
		Success:       true,
		Modifications: ret.Modifications,
		Meta:          ret.Meta,
	}
	if ret.Success != nil {
		out.Success = *ret.Success
	}
	return out, nil
}
