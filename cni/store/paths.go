package store

import "path/filepath"

// ContainerDir returns rootDir/<cid>.
func ContainerDir(rootDir, containerID string) string {
	return filepath.Join(rootDir, containerID)
}

// NamespacePath returns rootDir/<cid>/ns, the bind-mount point for the
// container's network namespace handle.
func NamespacePath(rootDir, containerID string) string {
	return filepath.Join(ContainerDir(rootDir, containerID), "ns")
}

// NetworkDir returns rootDir/<cid>/<network>.
func NetworkDir(rootDir, containerID, networkName string) string {
	return filepath.Join(ContainerDir(rootDir, containerID), networkName)
}

// InterfaceDir returns rootDir/<cid>/<network>/<ifName>.
func InterfaceDir(rootDir, containerID, networkName, ifName string) string {
	return filepath.Join(NetworkDir(rootDir, containerID, networkName), ifName)
}

// NetworkInfoPath returns rootDir/<cid>/<network>/<ifName>/network/info,
// the checkpointed stdout of a successful plugin ADD.
func NetworkInfoPath(rootDir, containerID, networkName, ifName string) string {
	return filepath.Join(InterfaceDir(rootDir, containerID, networkName, ifName), "network", "info")
}
