// Package plan computes deployment plans: dependency waves, resource
// creation sets, and stable resource names. This is part of the Functional
// Core - all functions are pure with no I/O.
package plan

import (
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

// CycleError reports a dependency cycle. Services holds the participating
// service names, sorted.
type CycleError struct {
	Services []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between services: %s", strings.Join(e.Services, ", "))
}

// UnknownDependencyError reports a depends_on entry that names no service.
type UnknownDependencyError struct {
	Service    string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %q depends on unknown service %q", e.Service, e.Dependency)
}
