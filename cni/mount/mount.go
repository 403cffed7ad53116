// Package mount implements the Mount Manager: making the
// checkpoint root directory a shared mount in its own peer group, and
// bind-mounting per-container network-namespace handles under it.
package mount

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-mesos/cni-isolator/cni/store"
)

var sharedPeerGroup = regexp.MustCompile(`shared:(\d+)`)

// Setup performs the one-shot, startup-time critical section: it
// creates rootDir if it doesn't already exist, canonicalizes it, and
// makes it a shared mount in its own peer group, re-issuing the
// slave+shared pair only when the mount table shows it is actually
// needed. It returns the canonicalized root directory, which callers
// must use for every subsequent operation instead of the path they
// passed in.
func Setup(rootDir string) (string, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create root directory %q", rootDir)
	}

	canonical, err := filepath.EvalSymlinks(rootDir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to canonicalize root directory %q", rootDir)
	}

	if err := setupSharedMount(canonical); err != nil {
		return "", err
	}
	return canonical, nil
}

func setupSharedMount(rootDir string) error {
	entries, err := mountinfo.GetMounts(nil)
	if err != nil {
		return errors.Wrap(err, "failed to read mount table")
	}

	var self, parent *mountinfo.Info
	for _, e := range entries {
		if e.Mountpoint == rootDir {
			self = e
		}
	}
	if self == nil {
		return selfBindAndShare(rootDir)
	}

	for _, e := range entries {
		if e.ID == self.Parent {
			parent = e
			break
		}
	}

	selfGroup, selfShared := peerGroup(self)
	if !selfShared {
		log.WithField("root_dir", rootDir).Info("root directory mount is not shared yet, making it shared")
		return slaveAndShare(rootDir)
	}

	if parent != nil {
		parentGroup, parentShared := peerGroup(parent)
		if parentShared && parentGroup == selfGroup {
			log.WithField("root_dir", rootDir).Info("root directory mount shares its parent's peer group, splitting it off")
			return slaveAndShare(rootDir)
		}
	}

	return nil
}

func selfBindAndShare(rootDir string) error {
	if err := mount.Mount(rootDir, rootDir, "bind", "bind"); err != nil {
		return errors.Wrapf(err, "failed to self bind mount %q", rootDir)
	}
	return slaveAndShare(rootDir)
}

func slaveAndShare(rootDir string) error {
	if err := mount.MakeSlave(rootDir); err != nil {
		return errors.Wrapf(err, "failed to make %q a slave mount", rootDir)
	}
	if err := mount.MakeShared(rootDir); err != nil {
		return errors.Wrapf(err, "failed to make %q a shared mount", rootDir)
	}
	return nil
}

// peerGroup extracts the "shared:N" peer group ID from a mount table
// entry's optional fields, if any.
func peerGroup(entry *mountinfo.Info) (id int, shared bool) {
	m := sharedPeerGroup.FindStringSubmatch(entry.Optional)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BindNamespace creates the empty sentinel file rootDir/<cid>/ns and
// bind-mounts /proc/<pid>/ns/net onto it, pinning a reference to the
// container's network namespace that survives the container process.
func BindNamespace(rootDir, containerID string, pid int) error {
	target := store.NamespacePath(rootDir, containerID)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create bind mount point %q", target)
	}
	f.Close()

	source := filepath.Join("/proc", strconv.Itoa(pid), "ns", "net")
	if err := mount.Mount(source, target, "bind", "bind"); err != nil {
		return errors.Wrapf(err, "failed to mount network namespace handle from %q to %q", source, target)
	}

	log.WithFields(log.Fields{
		"container_id": containerID,
		"source":       source,
		"target":       target,
	}).Info("bind mounted network namespace handle")

	return nil
}

// UnbindNamespace unmounts rootDir/<cid>/ns if present. Called from
// cleanup(); a missing sentinel is not an error, since the bind mount
// only ever exists between the first ADD and the last successful DEL.
func UnbindNamespace(rootDir, containerID string) error {
	target := store.NamespacePath(rootDir, containerID)

	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to stat %q", target)
	}

	if err := mount.Unmount(target); err != nil {
		return errors.Wrapf(err, "failed to unmount network namespace handle %q", target)
	}

	return nil
}
