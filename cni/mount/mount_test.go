package mount

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

func requireRootForMountTests(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("skipping mount test that requires root privileges")
	}
}

// scratchNetNS creates a fresh, disposable network namespace and hands
// back the tid of the locked OS thread that lives in it, so BindNamespace
// (which only knows how to follow /proc/<pid>/ns/net) has a real
// namespace to pin. The goroutine's thread is locked and never
// unlocked: once it returns, the Go runtime destroys the underlying OS
// thread rather than recycling it, so the namespace switch can never
// bleed into an unrelated test.
func scratchNetNS(t *testing.T) int {
	t.Helper()

	tidCh := make(chan int, 1)
	errCh := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		newNS, err := netns.New()
		if err != nil {
			errCh <- err
			return
		}
		defer newNS.Close()
		tidCh <- unix.Gettid()
		<-done
	}()

	t.Cleanup(func() { close(done) })

	select {
	case tid := <-tidCh:
		return tid
	case err := <-errCh:
		t.Fatalf("failed to create scratch network namespace: %v", err)
		return 0
	}
}

func TestBindAndUnbindNamespace(t *testing.T) {
	requireRootForMountTests(t)

	rootDir := t.TempDir()
	containerID := "abc"
	require.NoError(t, os.MkdirAll(filepath.Join(rootDir, containerID), 0o755))

	tid := scratchNetNS(t)

	require.NoError(t, BindNamespace(rootDir, containerID, tid))

	// The bind-mounted handle must itself be a valid, enterable network
	// namespace, not just any file sitting at the target path.
	target := filepath.Join(rootDir, containerID, "ns")
	require.NoError(t, ns.WithNetNSPath(target, func(ns.NetNS) error { return nil }))

	require.NoError(t, UnbindNamespace(rootDir, containerID))
}

func TestUnbindNamespaceMissingIsNoop(t *testing.T) {
	rootDir := t.TempDir()
	assert.NoError(t, UnbindNamespace(rootDir, "nonexistent"))
}

func TestSetupCreatesAndCanonicalizesRootDir(t *testing.T) {
	requireRootForMountTests(t)

	rootDir := filepath.Join(t.TempDir(), "not-yet-created")

	canonical, err := Setup(rootDir)
	require.NoError(t, err)

	info, statErr := os.Stat(canonical)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	expected, err := filepath.EvalSymlinks(rootDir)
	require.NoError(t, err)
	assert.Equal(t, expected, canonical)

	entries, err := mountinfo.GetMounts(nil)
	require.NoError(t, err)
	var self *mountinfo.Info
	for _, e := range entries {
		if e.Mountpoint == canonical {
			self = e
		}
	}
	require.NotNil(t, self, "root directory must be mounted after Setup")
	_, shared := peerGroup(self)
	assert.True(t, shared, "root directory must be a shared mount after Setup")

	// Calling Setup again on the now-shared directory must be a no-op,
	// not re-issue the slave+shared pair.
	again, err := Setup(rootDir)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}

func TestPeerGroupParsesSharedOption(t *testing.T) {
	id, shared := peerGroup(&mountinfo.Info{Optional: "shared:42 master:7"})
	assert.True(t, shared)
	assert.Equal(t, 42, id)
}

func TestPeerGroupNoSharedOption(t *testing.T) {
	id, shared := peerGroup(&mountinfo.Info{Optional: "master:7"})
	assert.False(t, shared)
	assert.Equal(t, 0, id)
}
