package hooks

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateHookName is returned by Register when a hook with the same
	// name already exists at the point.
	ErrDuplicateHookName = errors.New("hooks: duplicate hook name")

	// ErrShutdownInProgress is returned by Dispatch and Register once Close
	// has been called on the dispatcher.
	ErrShutdownInProgress = errors.New("hooks: shutdown in progress")
)

// UnknownDependencyError reports a hook depending on a name that is not
// registered at the same point.
type UnknownDependencyError struct {
	Point      Point
	Hook       string
	Dependency string
}

// Error implements error.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("hooks: %q at %s depends on unregistered hook %q", e.Hook, e.Point, e.Dependency)
}

// CyclicDependencyError reports a dependency cycle among hooks at a point.
// Cycle lists the hooks participating in (or reachable only through) the
// cycle, in registration order.
type CyclicDependencyError struct {
	Point Point
	Cycle []string
}

// Error implements error.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("hooks: cyclic dependency at %s involving [%s]", e.Point, strings.Join(e.Cycle, ", "))
}

// ConflictError reports two mutually incompatible hooks that the selected
// strategy cannot isolate into non-overlapping parallel groups.
type ConflictError struct {
	Point Point
	HookA string
	HookB string
}

// Error implements error.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("hooks: %q and %q at %s are mutually incompatible", e.HookA, e.HookB, e.Point)
}
