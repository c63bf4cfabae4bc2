package plan

import (
	"sort"

	"github.com/flotilla-dev/flotilla/internal/core/stack"
)

// =============================================================================
// Plan Construction
// =============================================================================

// Build computes the deployment plan for a parsed stack: the image build
// set, the network/volume/secret creation sets, and the dependency waves.
//
// The plan is deterministic: waves order services so that everything a
// service depends on sits in an earlier wave, services within a wave are
// sorted by name, and all resource sets are name-sorted (secrets by first
// use, see below).
func Build(spec *stack.StackSpec) (*DeploymentPlan, error) {
	waves, err := Waves(spec.Services)
	if err != nil {
		return nil, err
	}

	p := &DeploymentPlan{
		Stack:    spec.Name,
		Images:   collectImages(spec.Services),
		Networks: collectNetworks(spec),
		Volumes:  append([]stack.VolumeRef(nil), spec.Volumes...),
		Secrets:  collectSecrets(spec, waves),
		Waves:    waves,
	}
	return p, nil
}

// Waves layers services so that every dependency of a wave-N service sits
// in a wave strictly before N. Uses Kahn's algorithm level by level:
//
//  1. Build the in-degree map and the reverse adjacency (dependents) map
//  2. Services with in-degree 0 form the first wave
//  3. Releasing a wave decrements its dependents' in-degrees; services
//     reaching 0 form the next wave
//  4. Services never released are part of (or blocked behind) a cycle
//
// Example:
//
//	// Services: frontend → backend → db
//	waves, _ := Waves(services)
//	// Result: [[db], [backend], [frontend]]
func Waves(services []stack.ServiceSpec) ([][]stack.ServiceSpec, error) {
	if len(services) == 0 {
		return nil, nil
	}

	serviceMap := make(map[string]stack.ServiceSpec, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
	}
	for _, svc := range services {
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			if _, ok := serviceMap[dep]; !ok {
				return nil, &UnknownDependencyError{Service: svc.Name, Dependency: dep}
			}
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var current []string
	for name, degree := range inDegree {
		if degree == 0 {
			current = append(current, name)
		}
	}

	var waves [][]stack.ServiceSpec
	released := 0
	for len(current) > 0 {
		sort.Strings(current)

		wave := make([]stack.ServiceSpec, 0, len(current))
		var next []string
		for _, name := range current {
			wave = append(wave, serviceMap[name])
			released++
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		waves = append(waves, wave)
		current = next
	}

	if released < len(services) {
		return nil, &CycleError{Services: cycleMembers(services, inDegree)}
	}

	return waves, nil
}

// cycleMembers extracts the services actually on a cycle, excluding those
// merely blocked behind one. A service is on a cycle exactly when it is
// reachable from itself through unreleased services.
func cycleMembers(services []stack.ServiceSpec, inDegree map[string]int) []string {
	unreleased := make(map[string][]string)
	for _, svc := range services {
		if inDegree[svc.Name] > 0 {
			unreleased[svc.Name] = svc.DependsOn
		}
	}

	reaches := func(from, to string) bool {
		seen := make(map[string]bool)
		queue := []string{from}
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			for _, dep := range unreleased[node] {
				if dep == to {
					return true
				}
				if !seen[dep] {
					seen[dep] = true
					queue = append(queue, dep)
				}
			}
		}
		return false
	}

	var members []string
	for name := range unreleased {
		if reaches(name, name) {
			members = append(members, name)
		}
	}
	sort.Strings(members)
	return members
}

// collectImages derives the deduplicated build set from services that
// declare a build section.
func collectImages(services []stack.ServiceSpec) []stack.ImageSpec {
	seen := make(map[string]bool)
	var images []stack.ImageSpec

	for _, svc := range services {
		if svc.Build == nil {
			continue
		}
		repo, tag := stack.SplitImageRef(svc.Image)
		img := stack.ImageSpec{
			Name:       repo,
			Tag:        tag,
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
		if seen[img.Ref()] {
			continue
		}
		seen[img.Ref()] = true
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Ref() < images[j].Ref() })
	return images
}

// collectNetworks returns the declared networks plus the implicit default
// network when at least one service declares none.
func collectNetworks(spec *stack.StackSpec) []stack.NetworkRef {
	networks := append([]stack.NetworkRef(nil), spec.Networks...)

	needDefault := false
	for _, svc := range spec.Services {
		if len(svc.Networks) == 0 {
			needDefault = true
			break
		}
	}
	if needDefault {
		declared := false
		for _, net := range networks {
			if net.Name == DefaultNetwork {
				declared = true
				break
			}
		}
		if !declared {
			networks = append(networks, stack.NetworkRef{Name: DefaultNetwork})
		}
	}

	sort.Slice(networks, func(i, j int) bool { return networks[i].Name < networks[j].Name })
	return networks
}

// collectSecrets returns the secrets the services actually use (attachment
// or secret:// environment reference), deduplicated, ordered by the wave of
// first use and by name within a wave. Declared-but-unused secrets are not
// provisioned.
func collectSecrets(spec *stack.StackSpec, waves [][]stack.ServiceSpec) []stack.SecretRef {
	seen := make(map[string]bool)
	var secrets []stack.SecretRef

	add := func(name string) {
		if seen[name] {
			return
		}
		if ref := spec.Secret(name); ref != nil {
			seen[name] = true
			secrets = append(secrets, *ref)
		}
	}

	for _, wave := range waves {
		var inWave []string
		for _, svc := range wave {
			for _, att := range svc.Secrets {
				inWave = append(inWave, att.Source)
			}
			for _, val := range svc.Environment {
				if stack.IsSecretEnvRef(val) {
					inWave = append(inWave, stack.SecretEnvRefName(val))
				}
			}
		}
		sort.Strings(inWave)
		for _, name := range inWave {
			add(name)
		}
	}

	return secrets
}
