package hooks

// Outcome is the result a hook returns on success. Modifications are merged
// into the chain's context under the dispatcher's conflict policy; Meta
// carries arbitrary hook-provided metadata alongside the modifications.
type Outcome struct {
	// Success reports whether the hook considers its work done. A hook can
	// return Success=false without an error to signal a soft veto that the
	// caller may inspect in the dispatch result.
	Success bool
	// Modifications are merged into the context after the hook completes.
	// In parallel groups the highest-priority hook wins conflicting keys,
	// ties going to the later registration.
	Modifications map[string]any
	// Meta carries hook-provided metadata surfaced verbatim in the result.
	Meta map[string]any
}

// Continue returns a successful outcome with no modifications.
func Continue() *Outcome {
	return &Outcome{Success: true}
}

// Modified returns a successful outcome carrying the given context
// modifications.
func Modified(mods map[string]any) *Outcome {
	return &Outcome{Success: true, Modifications: mods}
}
