package plan

import (
	"github.com/flotilla-dev/flotilla/internal/core/stack"
)

// =============================================================================
// Deployment Plan Types
// =============================================================================

// DeploymentPlan is the computed realization order for one stack: which
// images to build, which networks, volumes and secrets to ensure, and the
// dependency waves services start in. Plans are recomputed from the parsed
// stack on every run and never persisted.
type DeploymentPlan struct {
	Stack    string                `json:"stack"`
	Images   []stack.ImageSpec     `json:"images,omitempty"`
	Networks []stack.NetworkRef    `json:"networks,omitempty"`
	Volumes  []stack.VolumeRef     `json:"volumes,omitempty"`
	Secrets  []stack.SecretRef     `json:"secrets,omitempty"`
	Waves    [][]stack.ServiceSpec `json:"waves"`
}

// ServiceCount returns the total number of services across all waves.
func (p *DeploymentPlan) ServiceCount() int {
	n := 0
	for _, wave := range p.Waves {
		n += len(wave)
	}
	return n
}

// WaveIndex returns the wave a service starts in, or -1 if the plan does
// not contain the service.
func (p *DeploymentPlan) WaveIndex(service string) int {
	for i, wave := range p.Waves {
		for _, svc := range wave {
			if svc.Name == service {
				return i
			}
		}
	}
	return -1
}

// Services returns every service in wave order, name-sorted within a wave.
func (p *DeploymentPlan) Services() []stack.ServiceSpec {
	out := make([]stack.ServiceSpec, 0, p.ServiceCount())
	for _, wave := range p.Waves {
		out = append(out, wave...)
	}
	return out
}
