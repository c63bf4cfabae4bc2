package stack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses compose-style stack YAML into a StackSpec.
// This is a pure function - no I/O, no side effects.
//
// name becomes the stack name (used for resource naming); env supplies the
// variables ${VAR} placeholders interpolate from. A placeholder without a
// default whose variable is absent from env is a configuration error.
func Parse(name, content string, env map[string]string) (*StackSpec, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}
	if name == "" {
		name = "flotilla"
	}

	// Interpolation never invents values: reject unresolvable placeholders
	// before the loader substitutes empty strings for them.
	if missing := MissingVariables(content, env); len(missing) > 0 {
		return nil, NewParseError("",
			fmt.Sprintf("unset variables without defaults: %s", strings.Join(missing, ", ")),
			ErrMissingVariable)
	}

	project, err := loadStack(name, content, env)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &StackSpec{
		Name:     name,
		Services: make([]ServiceSpec, 0, len(project.Services)),
		Networks: make([]NetworkRef, 0, len(project.Networks)),
		Volumes:  make([]VolumeRef, 0, len(project.Volumes)),
		Secrets:  make([]SecretRef, 0, len(project.Secrets)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(name, svc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, converted)
	}
	// Map iteration order is random; results must be stable.
	sort.Slice(spec.Services, func(i, j int) bool {
		return spec.Services[i].Name < spec.Services[j].Name
	})

	for secretName, sec := range project.Secrets {
		converted, err := convertSecret(secretName, sec)
		if err != nil {
			return nil, err
		}
		spec.Secrets = append(spec.Secrets, converted)
	}
	sort.Slice(spec.Secrets, func(i, j int) bool {
		return spec.Secrets[i].Name < spec.Secrets[j].Name
	})

	for netName, net := range project.Networks {
		spec.Networks = append(spec.Networks, convertNetwork(netName, net))
	}
	sort.Slice(spec.Networks, func(i, j int) bool {
		return spec.Networks[i].Name < spec.Networks[j].Name
	})

	for volName, vol := range project.Volumes {
		spec.Volumes = append(spec.Volumes, convertVolume(volName, vol))
	}
	sort.Slice(spec.Volumes, func(i, j int) bool {
		return spec.Volumes[i].Name < spec.Volumes[j].Name
	})

	if err := validateDependencies(spec.Services); err != nil {
		return nil, err
	}
	if err := detectCircularDependencies(spec.Services); err != nil {
		return nil, err
	}
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}
	if err := validateSecretRefs(spec); err != nil {
		return nil, err
	}

	return spec, nil
}

// loadStack loads a stack spec using compose-go.
func loadStack(name, content string, env map[string]string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(content),
				Config:  dict,
			},
		},
		Environment: types.Mapping(env),
	}, func(opts *loader.Options) {
		opts.SetProjectName(name, false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory input: nothing to resolve paths or extends against.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "dependency cycle detected"):
			return nil, NewParseError("", errStr, ErrCircularDependency)
		case strings.Contains(errStr, "depends on undefined service"),
			strings.Contains(errStr, "depends on unknown service"):
			return nil, NewParseError("", errStr, ErrUnknownDependency)
		case strings.Contains(errStr, "undefined secret"):
			return nil, NewParseError("", errStr, ErrUnknownSecret)
		case strings.Contains(errStr, "undefined network"):
			return nil, NewParseError("", errStr, ErrUnknownNetwork)
		case strings.Contains(errStr, "undefined volume"):
			return nil, NewParseError("", errStr, ErrUnknownVolume)
		case strings.Contains(errStr, "image") && strings.Contains(errStr, "build"):
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidStack)
	}

	return project, nil
}

// checkUnsupportedFeatures checks for features we don't support.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}

	for name, sec := range project.Secrets {
		if sec.Environment != "" {
			return NewParseError("secrets."+name, "environment-sourced secrets are not supported", ErrUnsupportedFeature)
		}
		if bool(sec.External) {
			return NewParseError("secrets."+name, "external secrets are not supported", ErrUnsupportedFeature)
		}
	}

	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our ServiceSpec type.
func convertService(stackName string, svc types.ServiceConfig) (ServiceSpec, error) {
	service := ServiceSpec{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]string, 0),
	}

	if svc.Build != nil {
		service.Build = &BuildSpec{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return ServiceSpec{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}
	// A buildable service without an explicit image gets the conventional
	// <stack>_<service> reference so the built artifact is addressable.
	if service.Image == "" {
		service.Image = fmt.Sprintf("%s_%s", stackName, svc.Name)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	for _, sec := range svc.Secrets {
		service.Secrets = append(service.Secrets, SecretAttachment{
			Source: sec.Source,
			Target: sec.Target,
		})
	}

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		hc, err := convertHealthCheck(svc.Name, svc.HealthCheck)
		if err != nil {
			return ServiceSpec{}, err
		}
		service.HealthCheck = hc
	}

	return service, nil
}

// convertHealthCheck maps a compose health check onto a probe.
//
// The test verb selects the probe kind:
//
//	test: ["CMD", "pg_isready"]              -> engine probe
//	test: ["CMD-SHELL", "curl -f ..."]       -> engine probe
//	test: ["HTTP", "http://localhost:8080/"] -> http probe from the deployer
//	test: ["TCP", "localhost:5432"]          -> tcp probe from the deployer
//	test: ["NONE"]                           -> no check
func convertHealthCheck(serviceName string, hc *types.HealthCheckConfig) (*HealthCheckSpec, error) {
	field := "services." + serviceName + ".healthcheck"

	if len(hc.Test) == 0 {
		return nil, NewParseError(field, "health check requires a test", ErrInvalidHealthCheck)
	}

	spec := &HealthCheckSpec{}
	switch strings.ToUpper(hc.Test[0]) {
	case "NONE":
		return nil, nil
	case "HTTP":
		if len(hc.Test) < 2 || hc.Test[1] == "" {
			return nil, NewParseError(field, "HTTP probe requires a URL", ErrInvalidHealthCheck)
		}
		spec.Kind = ProbeHTTP
		spec.URL = hc.Test[1]
	case "TCP":
		if len(hc.Test) < 2 || hc.Test[1] == "" {
			return nil, NewParseError(field, "TCP probe requires an address", ErrInvalidHealthCheck)
		}
		spec.Kind = ProbeTCP
		spec.Address = hc.Test[1]
	default:
		spec.Kind = ProbeEngine
		spec.Test = hc.Test
	}

	if hc.Retries != nil {
		spec.Retries = int(*hc.Retries)
	}
	if hc.Interval != nil {
		spec.Interval = time.Duration(*hc.Interval)
	}
	if hc.Timeout != nil {
		spec.Timeout = time.Duration(*hc.Timeout)
	}
	if hc.StartPeriod != nil {
		spec.StartPeriod = time.Duration(*hc.StartPeriod)
	}

	return spec, nil
}

// convertSecret converts a compose-go secret to our SecretRef type.
func convertSecret(name string, sec types.SecretConfig) (SecretRef, error) {
	return SecretRef{
		Name:       name,
		SourcePath: sec.File,
	}, nil
}

// convertNetwork converts a compose-go network to our NetworkRef type.
func convertNetwork(name string, net types.NetworkConfig) NetworkRef {
	return NetworkRef{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Labels:   net.Labels,
	}
}

// convertVolume converts a compose-go volume to our VolumeRef type.
func convertVolume(name string, vol types.VolumeConfig) VolumeRef {
	return VolumeRef{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// validateDependencies checks that every depends_on names a declared service.
func validateDependencies(services []ServiceSpec) error {
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		known[svc.Name] = true
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				return NewParseError(
					"services."+svc.Name+".depends_on",
					fmt.Sprintf("unknown service %q", dep),
					ErrUnknownDependency,
				)
			}
		}
	}
	return nil
}

// detectCircularDependencies detects cycles in service dependencies using
// DFS with a recursion stack, and reports the participating services.
func detectCircularDependencies(services []ServiceSpec) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var findCycle func(node string) []string
	findCycle = func(node string) []string {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range deps[node] {
			if dep == node {
				return []string{node}
			}
			if !visited[dep] {
				if cycle := findCycle(dep); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				// Cycle starts where the path re-enters dep.
				for i, n := range path {
					if n == dep {
						return path[i:]
					}
				}
				return path
			}
		}

		recStack[node] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, svc := range services {
		if visited[svc.Name] {
			continue
		}
		if cycle := findCycle(svc.Name); cycle != nil {
			names := append([]string(nil), cycle...)
			sort.Strings(names)
			return NewParseError(
				"services",
				fmt.Sprintf("dependency cycle between services: %s", strings.Join(names, ", ")),
				ErrCircularDependency,
			)
		}
	}

	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []ServiceSpec) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// validateSecretRefs checks that every secret attachment and every
// secret:// environment reference names a declared secret.
func validateSecretRefs(spec *StackSpec) error {
	declared := make(map[string]bool, len(spec.Secrets))
	for _, sec := range spec.Secrets {
		declared[sec.Name] = true
	}

	for _, svc := range spec.Services {
		for _, att := range svc.Secrets {
			if !declared[att.Source] {
				return NewParseError(
					"services."+svc.Name+".secrets",
					fmt.Sprintf("undeclared secret %q", att.Source),
					ErrUnknownSecret,
				)
			}
		}
		for key, val := range svc.Environment {
			if IsSecretEnvRef(val) && !declared[SecretEnvRefName(val)] {
				return NewParseError(
					fmt.Sprintf("services.%s.environment.%s", svc.Name, key),
					fmt.Sprintf("undeclared secret %q", SecretEnvRefName(val)),
					ErrUnknownSecret,
				)
			}
		}
	}

	return nil
}
