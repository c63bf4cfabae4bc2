package plan

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// Engine resource names derive from the stack name, not a per-run ID, so
// repeated deployments of the same stack find and reuse what they created.

// DefaultNetwork is the implicit network services join when they declare none.
const DefaultNetwork = "default"

// NetworkName generates an engine network name for a stack network.
// Pattern: flotilla_{stack}_{network}
//
// Example:
//
//	NetworkName("shop", "backend") // returns "flotilla_shop_backend"
func NetworkName(stackName, network string) string {
	return fmt.Sprintf("flotilla_%s_%s", stackName, network)
}

// VolumeName generates an engine volume name for a stack volume.
// Pattern: flotilla_{stack}_{volume}
//
// Example:
//
//	VolumeName("shop", "pgdata") // returns "flotilla_shop_pgdata"
func VolumeName(stackName, volume string) string {
	return fmt.Sprintf("flotilla_%s_%s", stackName, volume)
}

// ContainerName generates an engine container name for a service.
// Pattern: flotilla_{stack}_{service}
//
// Example:
//
//	ContainerName("shop", "db") // returns "flotilla_shop_db"
func ContainerName(stackName, service string) string {
	return fmt.Sprintf("flotilla_%s_%s", stackName, service)
}
