package deploy

import "fmt"

// InfraError reports a failed network or volume creation. Infrastructure
// failures are fatal: no service starts when shared plumbing cannot be
// ensured.
type InfraError struct {
	Resource string // "network" or "volume"
	Name     string
	Err      error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("failed to ensure %s %s: %v", e.Resource, e.Name, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}
