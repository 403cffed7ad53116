// Package store implements the on-disk checkpoint hierarchy: a
// plain directory tree keyed by container ID, with no transactional
// guarantees beyond what the filesystem itself provides. Recovery
// recover/_recover) is written to tolerate any prefix of the write
// sequence this package performs.
package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store is the Checkpoint Store. It is stateless beyond the root
// directory path; all state lives on disk.
type Store struct {
	rootDir string
}

// New returns a Store rooted at rootDir. rootDir must already exist and
// be set up as a shared mount by the Mount Manager before any container
// directories are created under it.
func New(rootDir string) *Store {
	return &Store{rootDir: rootDir}
}

func (s *Store) RootDir() string { return s.rootDir }

// CreateContainerDir creates rootDir/<cid>. Idempotent: an existing
// directory is not an error, matching the mkdir call in isolate() which
// may run again across a crash/restart before cleanup ever ran.
func (s *Store) CreateContainerDir(containerID string) error {
	dir := ContainerDir(s.rootDir, containerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create container directory %q", dir)
	}
	return nil
}

// ContainerDirExists reports whether rootDir/<cid> exists.
func (s *Store) ContainerDirExists(containerID string) (bool, error) {
	return exists(ContainerDir(s.rootDir, containerID))
}

// RemoveContainerDir recursively removes rootDir/<cid>, used by cleanup
// after all detaches have succeeded and the namespace mount released.
func (s *Store) RemoveContainerDir(containerID string) error {
	dir := ContainerDir(s.rootDir, containerID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove container directory %q", dir)
	}
	return nil
}

// CreateInterfaceDir creates rootDir/<cid>/<net>/<ifName>.
func (s *Store) CreateInterfaceDir(containerID, networkName, ifName string) error {
	dir := InterfaceDir(s.rootDir, containerID, networkName, ifName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create interface directory %q", dir)
	}
	return nil
}

// RemoveInterfaceDir removes rootDir/<cid>/<net>/<ifName>, used by detach
// after a successful DEL.
func (s *Store) RemoveInterfaceDir(containerID, networkName, ifName string) error {
	dir := InterfaceDir(s.rootDir, containerID, networkName, ifName)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove interface directory %q", dir)
	}
	return nil
}

// WriteInfo checkpoints the raw stdout of a successful plugin ADD to
// rootDir/<cid>/<net>/<ifName>/network/info.
func (s *Store) WriteInfo(containerID, networkName, ifName string, data []byte) error {
	path := NetworkInfoPath(s.rootDir, containerID, networkName, ifName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to checkpoint CNI plugin output to %q", path)
	}
	return nil
}

// ReadInfo reads back a checkpointed network/info file. A missing file
// returns (nil, false, nil): recovery must tolerate the crash window
// between attach() creating the interface directory and attach()
// writing the checkpoint.
func (s *Store) ReadInfo(containerID, networkName, ifName string) ([]byte, bool, error) {
	path := NetworkInfoPath(s.rootDir, containerID, networkName, ifName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "failed to read CNI network information file %q", path)
	}
	return data, true, nil
}

// ListNetworks lists the network subdirectories under rootDir/<cid>.
func (s *Store) ListNetworks(containerID string) ([]string, error) {
	return listDirs(ContainerDir(s.rootDir, containerID))
}

// ListInterfaces lists the interface subdirectories under
// rootDir/<cid>/<net>.
func (s *Store) ListInterfaces(containerID, networkName string) ([]string, error) {
	return listDirs(NetworkDir(s.rootDir, containerID, networkName))
}

// ListContainers lists every container directory directly under
// rootDir, used by recover() to discover orphaned checkpoint state.
func (s *Store) ListContainers() ([]string, error) {
	return listDirs(s.rootDir)
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list directory %q", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}
