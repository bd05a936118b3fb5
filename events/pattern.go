package events

import "strings"

// MatchPattern reports whether a channel pattern matches an event type.
// Patterns are dot-separated segments; "*" matches exactly one segment
// except in the final position, where it matches the remainder of the type.
//
//	MatchPattern("agent.started", "agent.started") // true (exact)
//	MatchPattern("agent.*", "agent.started")       // true
//	MatchPattern("agent.*", "agent.tool.done")     // true (trailing *)
//	MatchPattern("*.started", "agent.started")     // true
//	MatchPattern("*", anything)                    // true
func MatchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsRune(pattern, '*') {
		return pattern == eventType
	}
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(eventType, ".")
	for i, seg := range pSegs {
		if seg == "*" && i == len(pSegs)-1 {
			// Trailing wildcard swallows the rest, which must be non-empty.
			return len(tSegs) >= len(pSegs)
		}
		if i >= len(tSegs) {
			return false
		}
		if seg != "*" && seg != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
