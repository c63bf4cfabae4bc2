package run

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// Service Results
// =============================================================================

// ServiceResult is the recorded outcome for one service in a run.
type ServiceResult struct {
	Service     string `json:"service"`
	State       State  `json:"state"`
	ContainerID string `json:"container_id,omitempty"`
	Detail      string `json:"detail,omitempty"` // human-readable failure/blocking reason
}

// ResultSet accumulates per-service results during a run. Wave workers
// update it concurrently; every mutation goes through the state machine.
type ResultSet struct {
	mu      sync.Mutex
	results map[string]*ServiceResult
}

// NewResultSet seeds a result set with every service Pending.
func NewResultSet(services []string) *ResultSet {
	rs := &ResultSet{results: make(map[string]*ServiceResult, len(services))}
	for _, name := range services {
		rs.results[name] = &ServiceResult{Service: name, State: StatePending}
	}
	return rs
}

// transition applies a validated state change under the lock.
func (rs *ResultSet) transition(service string, to State, detail string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	res, ok := rs.results[service]
	if !ok {
		return fmt.Errorf("unknown service %q: %w", service, ErrInvalidTransition)
	}
	if err := ValidateTransition(res.State, to); err != nil {
		return fmt.Errorf("service %q: %s -> %s: %w", service, res.State, to, err)
	}
	res.State = to
	if detail != "" {
		res.Detail = detail
	}
	return nil
}

// MarkStarting records a service's start acknowledgment.
func (rs *ResultSet) MarkStarting(service, containerID string) error {
	if err := rs.transition(service, StateStarting, ""); err != nil {
		return err
	}
	rs.mu.Lock()
	rs.results[service].ContainerID = containerID
	rs.mu.Unlock()
	return nil
}

// MarkHealthy records passed health verification.
func (rs *ResultSet) MarkHealthy(service string) error {
	return rs.transition(service, StateHealthy, "")
}

// MarkUnhealthy records failed health verification.
func (rs *ResultSet) MarkUnhealthy(service, reason string) error {
	return rs.transition(service, StateUnhealthy, reason)
}

// MarkFailed records a start failure.
func (rs *ResultSet) MarkFailed(service string, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return rs.transition(service, StateFailed, detail)
}

// MarkCancelled records an interrupted service.
func (rs *ResultSet) MarkCancelled(service string) error {
	return rs.transition(service, StateCancelled, "interrupted")
}

// MarkStopped records a deliberate stop.
func (rs *ResultSet) MarkStopped(service string) error {
	return rs.transition(service, StateStopped, "")
}

// MarkBlocked records a service that was never started because a
// dependency did not come up. The service stays Pending; only the blocking
// reason is recorded.
func (rs *ResultSet) MarkBlocked(service, dependency string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if res, ok := rs.results[service]; ok && res.State == StatePending {
		res.Detail = fmt.Sprintf("not started: dependency %q never started", dependency)
	}
}

// Get returns a copy of one service's result.
func (rs *ResultSet) Get(service string) (ServiceResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.results[service]
	if !ok {
		return ServiceResult{}, false
	}
	return *res, true
}

// State returns a service's current state, or "" if unknown.
func (rs *ResultSet) State(service string) State {
	res, ok := rs.Get(service)
	if !ok {
		return ""
	}
	return res.State
}

// All returns a snapshot of every result, sorted by service name.
func (rs *ResultSet) All() []ServiceResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]ServiceResult, 0, len(rs.results))
	for _, res := range rs.results {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// CountInState returns how many services currently sit in the given state.
func (rs *ResultSet) CountInState(state State) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	n := 0
	for _, res := range rs.results {
		if res.State == state {
			n++
		}
	}
	return n
}
