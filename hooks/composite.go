package hooks

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Pattern selects how a composite hook combines its children's outcomes.
type Pattern int

const (
	// PatternSequential runs children in order, merging modifications as it
	// goes, and stops at the first child that vetoes (Success=false).
	PatternSequential Pattern = iota
	// PatternParallel runs children concurrently on cloned contexts and
	// merges all modifications in child order.
	PatternParallel
	// PatternFirstMatch runs children in order and returns the first
	// outcome that modifies the context or vetoes; remaining children do
	// not run.
	PatternFirstMatch
	// PatternVoting runs every child and succeeds when the fraction of
	// successful children reaches the configured threshold.
	PatternVoting
)

// Composite combines child hooks into a single registrable hook. It lets a
// caller register one name at a point while fanning execution out to
// several cooperating hooks with their own combination semantics.
type Composite struct {
	name      string
	pattern   Pattern
	meta      Meta
	threshold float64
	children  []Hook
}

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithCompositeMeta sets the composite's scheduling attributes as seen by
// the dispatcher. Child metas only influence execution inside the composite.
func WithCompositeMeta(meta Meta) CompositeOption {
	return func(c *Composite) { c.meta = meta }
}

// WithVotingThreshold sets the fraction of children (0..1] that must succeed
// for PatternVoting to report success. Default is 0.5.
func WithVotingThreshold(threshold float64) CompositeOption {
	return func(c *Composite) { c.threshold = threshold }
}

// NewComposite constructs a composite hook combining children under the
// given pattern.
func NewComposite(name string, pattern Pattern, children []Hook, opts ...CompositeOption) *Composite {
	c := &Composite{
		name:      name,
		pattern:   pattern,
		threshold: 0.5,
		children:  children,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the composite's registered name.
func (c *Composite) Name() string { return c.name }

// Meta returns the composite's scheduling attributes.
func (c *Composite) Meta() Meta { return c.meta }

// Len returns the number of child hooks.
func (c *Composite) Len() int { return len(c.children) }

// Execute runs the children under the composite's pattern. An empty
// composite is a successful no-op.
func (c *Composite) Execute(ctx context.Context, hc *Context) (*Outcome, error) {
	if len(c.children) == 0 {
		return Continue(), nil
	}
	switch c.pattern {
	case PatternParallel:
		return c.executeParallel(ctx, hc)
	case PatternFirstMatch:
		return c.executeFirstMatch(ctx, hc)
	case PatternVoting:
		return c.executeVoting(ctx, hc)
	default:
		return c.executeSequential(ctx, hc)
	}
}

func (c *Composite) executeSequential(ctx context.Context, hc *Context) (*Outcome, error) {
	merged := Continue()
	for _, child := range c.children {
		out, err := child.Execute(ctx, hc)
		if err != nil {
			return nil, fmt.Errorf("composite %q child %q: %w", c.name, child.Name(), err)
		}
		if out == nil {
			continue
		}
		mergeOutcome(merged, out)
		if !out.Success {
			merged.Success = false
			return merged, nil
		}
	}
	return merged, nil
}

func (c *Composite) executeParallel(ctx context.Context, hc *Context) (*Outcome, error) {
	outs := make([]*Outcome, len(c.children))
	errs := make([]error, len(c.children))
	var wg sync.WaitGroup
	for i, child := range c.children {
		wg.Add(1)
		go func(i int, child Hook) {
			defer wg.Done()
			outs[i], errs[i] = child.Execute(ctx, hc.Clone())
		}(i, child)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("composite %q child %q: %w", c.name, c.children[i].Name(), err)
		}
	}
	merged := Continue()
	for _, out := range outs {
		if out == nil {
			continue
		}
		mergeOutcome(merged, out)
		if !out.Success {
			merged.Success = false
		}
	}
	return merged, nil
}

func (c *Composite) executeFirstMatch(ctx context.Context, hc *Context) (*Outcome, error) {
	for _, child := range c.children {
		out, err := child.Execute(ctx, hc)
		if err != nil {
			return nil, fmt.Errorf("composite %q child %q: %w", c.name, child.Name(), err)
		}
		if out != nil && (!out.Success || len(out.Modifications) > 0) {
			return out, nil
		}
	}
	return Continue(), nil
}

func (c *Composite) executeVoting(ctx context.Context, hc *Context) (*Outcome, error) {
	required := int(math.Ceil(float64(len(c.children)) * c.threshold))
	if required < 1 {
		required = 1
	}
	successes := 0
	merged := Continue()
	for _, child := range c.children {
		out, err := child.Execute(ctx, hc)
		if err != nil {
			return nil, fmt.Errorf("composite %q child %q: %w", c.name, child.Name(), err)
		}
		if out == nil || out.Success {
			successes++
			if out != nil {
				mergeOutcome(merged, out)
			}
		}
	}
	merged.Success = successes >= required
	if merged.Meta == nil {
		merged.Meta = make(map[string]any)
	}
	merged.Meta["votes"] = successes
	merged.Meta["votes_required"] = required
	return merged, nil
}

func mergeOutcome(dst, src *Outcome) {
	if len(src.Modifications) > 0 && dst.Modifications == nil {
		dst.Modifications = make(map[string]any, len(src.Modifications))
	}
	for k, v := range src.Modifications {
		dst.Modifications[k] = v
	}
	if len(src.Meta) > 0 && dst.Meta == nil {
		dst.Meta = make(map[string]any, len(src.Meta))
	}
	for k, v := range src.Meta {
		dst.Meta[k] = v
	}
}
