package events

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FilterAction is the disposition a filter rule applies to a matching event.
type FilterAction int

const (
	// ActionAllow lets the event through unchanged.
	ActionAllow FilterAction = iota
	// ActionDeny drops the event; the emission result reports it as
	// dropped but Emit does not fail.
	ActionDeny
	// ActionTransform rewrites the event through the rule's Transform
	// function and lets the result through.
	ActionTransform
)

// FilterRule is one entry in a bus's emission filter chain. Rules are
// evaluated in descending priority order and the first rule whose pattern
// and predicate both match wins; when no rule matches, the chain's default
// action applies.
type FilterRule struct {
	// Name identifies the rule in emission results and logs.
	Name string
	// Priority orders rule evaluation; higher priorities are consulted
	// first. Ties keep their configuration order.
	Priority int
	// Pattern restricts the rule to matching event types. Empty matches
	// every type.
	Pattern string
	// Predicate optionally narrows the rule beyond the type pattern.
	Predicate func(Event) bool
	// Action is the rule's disposition.
	Action FilterAction
	// Transform rewrites the event for ActionTransform rules. The sequence
	// number, ID, and replay flag of the result are forced back to the
	// original's; transforms may only change type, payload, and source.
	Transform func(Event) Event
}

// filterChain evaluates rules in priority order against emitted events.
type filterChain struct {
	rules         []FilterRule
	defaultAction FilterAction
}

func newFilterChain(rules []FilterRule, defaultAction FilterAction) *filterChain {
	sorted := make([]FilterRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Priority > sorted[b].Priority
	})
	return &filterChain{rules: sorted, defaultAction: defaultAction}
}

// apply returns the (possibly transformed) event, the winning action, and
// the name of the rule that decided, empty when the default action applied.
func (fc *filterChain) apply(evt Event) (Event, FilterAction, string) {
	for _, rule := range fc.rules {
		if rule.Pattern != "" && !MatchPattern(rule.Pattern, evt.Type) {
			continue
		}
		if rule.Predicate != nil && !rule.Predicate(evt) {
			continue
		}
		switch rule.Action {
		case ActionDeny:
			return evt, ActionDeny, rule.Name
		case ActionTransform:
			if rule.Transform == nil {
				return evt, ActionAllow, rule.Name
			}
			out := rule.Transform(evt)
			out.ID = evt.ID
			out.Sequence = evt.Sequence
			out.Replay = evt.Replay
			return out, ActionAllow, rule.Name
		default:
			return evt, ActionAllow, rule.Name
		}
	}
	return evt, fc.defaultAction, ""
}

// SchemaPredicate compiles a JSON Schema and returns a filter predicate that
// accepts events whose payload validates against it. The payload is
// round-tripped through JSON, so struct payloads validate by their JSON
// representation.
func SchemaPredicate(schemaJSON []byte) (func(Event) bool, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return func(evt Event) bool {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return false
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return false
		}
		return schema.Validate(doc) == nil
	}, nil
}
