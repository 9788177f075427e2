package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the network name for a deployment.
// Pattern: drydock_{deploymentID}
func NetworkName(deploymentID string) string {
	return fmt.Sprintf("drydock_%s", deploymentID)
}

// VolumeName generates the runtime volume name for a named volume.
// Pattern: drydock_{deploymentID}_{volumeName}
func VolumeName(deploymentID, volumeName string) string {
	return fmt.Sprintf("drydock_%s_%s", deploymentID, volumeName)
}

// ContainerName generates the container name for a service.
// Pattern: drydock_{deploymentID}_{serviceName}
func ContainerName(deploymentID, serviceName string) string {
	return fmt.Sprintf("drydock_%s_%s", deploymentID, serviceName)
}

// ImageTag generates the tag for an image built from a service's build source.
// Pattern: drydock/{deploymentID}-{serviceName}:latest
func ImageTag(deploymentID, serviceName string) string {
	return fmt.Sprintf("drydock/%s-%s:latest", deploymentID, serviceName)
}
