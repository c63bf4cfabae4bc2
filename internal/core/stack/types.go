package stack

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// StackSpec - Main Output Type
// =============================================================================

// StackSpec represents a fully parsed deployment stack.
// This is the flotilla-specific representation, decoupled from compose-go types.
type StackSpec struct {
	Name     string        `json:"name"`
	Services []ServiceSpec `json:"services"`
	Networks []NetworkRef  `json:"networks,omitempty"`
	Volumes  []VolumeRef   `json:"volumes,omitempty"`
	Secrets  []SecretRef   `json:"secrets,omitempty"`
}

// Service returns the service with the given name, or nil.
func (s *StackSpec) Service(name string) *ServiceSpec {
	for i := range s.Services {
		if s.Services[i].Name == name {
			return &s.Services[i]
		}
	}
	return nil
}

// Secret returns the secret with the given name, or nil.
func (s *StackSpec) Secret(name string) *SecretRef {
	for i := range s.Secrets {
		if s.Secrets[i].Name == name {
			return &s.Secrets[i]
		}
	}
	return nil
}

// =============================================================================
// Service Types
// =============================================================================

// ServiceSpec represents a single service definition.
type ServiceSpec struct {
	Name        string             `json:"name"`
	Image       string             `json:"image,omitempty"`
	Build       *BuildSpec         `json:"build,omitempty"`
	Command     []string           `json:"command,omitempty"`
	Entrypoint  []string           `json:"entrypoint,omitempty"`
	Ports       []Port             `json:"ports,omitempty"`
	Environment map[string]string  `json:"environment,omitempty"`
	Volumes     []VolumeMount      `json:"volumes,omitempty"`
	Networks    []string           `json:"networks,omitempty"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	Secrets     []SecretAttachment `json:"secrets,omitempty"`
	Restart     RestartPolicy      `json:"restart,omitempty"`
	HealthCheck *HealthCheckSpec   `json:"healthcheck,omitempty"`
	Labels      map[string]string  `json:"labels,omitempty"`
}

// BuildSpec represents an image build definition.
type BuildSpec struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// ImageSpec identifies a buildable image: a registry-qualified name, a tag,
// and the build inputs. Derived from services that declare a build section;
// immutable once derived.
type ImageSpec struct {
	Name       string `json:"name"` // registry-qualified repository
	Tag        string `json:"tag"`
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// Ref returns the full image reference (name:tag).
func (s ImageSpec) Ref() string {
	if s.Tag == "" {
		return s.Name
	}
	return s.Name + ":" + s.Tag
}

// SplitImageRef splits an image reference into repository and tag.
// A missing tag yields "latest". The digest form (name@sha256:...) keeps
// the digest with the repository and yields an empty tag.
func SplitImageRef(ref string) (repo, tag string) {
	if strings.Contains(ref, "@") {
		return ref, ""
	}
	// The last colon separates the tag unless it belongs to a registry port.
	if i := strings.LastIndex(ref, ":"); i >= 0 && !strings.Contains(ref[i+1:], "/") {
		return ref[:i], ref[i+1:]
	}
	return ref, "latest"
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`   // bind, volume, tmpfs
	Source   string          `json:"source"` // Path or volume name
	Target   string          `json:"target"` // Container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// =============================================================================
// Health Check Types
// =============================================================================

// ProbeKind identifies how a service's health is verified.
type ProbeKind string

const (
	// ProbeEngine relies on the container engine's own health reporting
	// (a command run inside the container).
	ProbeEngine ProbeKind = "engine"
	// ProbeHTTP performs an HTTP GET; any 2xx response passes.
	ProbeHTTP ProbeKind = "http"
	// ProbeTCP dials a TCP address; a successful connect passes.
	ProbeTCP ProbeKind = "tcp"
)

// HealthCheckSpec represents health check configuration.
//
// The probe kind is carried in the test form: CMD / CMD-SHELL tests run
// inside the container (engine kind), while the HTTP and TCP forms
// ("HTTP <url>", "TCP <host:port>") are probed from the deployer.
type HealthCheckSpec struct {
	Kind        ProbeKind     `json:"kind"`
	Test        []string      `json:"test,omitempty"`    // engine probe command
	URL         string        `json:"url,omitempty"`     // http probe target
	Address     string        `json:"address,omitempty"` // tcp probe host:port
	Interval    time.Duration `json:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
}

// VerifyBudget returns the total time verification may take for this check.
// When the check declares interval and retries, the budget is derived from
// them; otherwise fallback is used.
func (h *HealthCheckSpec) VerifyBudget(fallback time.Duration) time.Duration {
	if h == nil {
		return fallback
	}
	if h.Interval > 0 && h.Retries > 0 {
		return h.StartPeriod + h.Interval*time.Duration(h.Retries)
	}
	return fallback
}

// =============================================================================
// Network and Volume Types
// =============================================================================

// NetworkRef represents a named network the stack's services attach to.
type NetworkRef struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// VolumeRef represents a named volume definition.
type VolumeRef struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// =============================================================================
// Secret Types
// =============================================================================

// SecretMountDir is the in-container directory secrets are mounted under
// when a service attachment does not name an explicit target.
const SecretMountDir = "/run/secrets"

// SecretRef declares a secret the stack requires. The value is supplied out
// of band (configuration); SourcePath is the host file the provisioner
// materializes the value into. An empty SourcePath means the provisioner
// chooses a path under its secrets directory.
type SecretRef struct {
	Name       string `json:"name"`
	SourcePath string `json:"source_path,omitempty"`
}

// SecretAttachment mounts a declared secret into a service.
type SecretAttachment struct {
	Source string `json:"source"`           // secret name
	Target string `json:"target,omitempty"` // container path; empty = default
}

// MountPath returns the in-container path the secret is mounted at.
func (a SecretAttachment) MountPath() string {
	if a.Target != "" {
		return a.Target
	}
	return fmt.Sprintf("%s/%s", SecretMountDir, a.Source)
}

// EnvSecretScheme prefixes environment values that reference a secret.
// The reference resolves to the secret's mount path, never its value, so
// secret material does not transit the environment.
const EnvSecretScheme = "secret://"

// IsSecretEnvRef reports whether an environment value is a secret reference.
func IsSecretEnvRef(value string) bool {
	return strings.HasPrefix(value, EnvSecretScheme)
}

// SecretEnvRefName extracts the secret name from a secret reference value.
func SecretEnvRefName(value string) string {
	return strings.TrimPrefix(value, EnvSecretScheme)
}
