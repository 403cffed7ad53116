package isolator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverRebuildsKnownContainerFromDisk(t *testing.T) {
	iso, _, _ := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	// Simulate a crash: a brand-new Isolator with an empty infos map,
	// pointed at the same on-disk checkpoint tree.
	fresh := New(loadedFrom(iso), iso.store, iso.mounter, iso.runner)
	require.NoError(t, fresh.Recover(context.Background(), []string{"abc"}, nil))

	fresh.mu.Lock()
	info, ok := fresh.infos["abc"]
	fresh.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "eth0", info.Attachments["net1"].IfName)
}

func TestRecoverRecognizedOrphanIsKeptNotCleaned(t *testing.T) {
	iso, _, _ := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	fresh := New(loadedFrom(iso), iso.store, iso.mounter, iso.runner)
	require.NoError(t, fresh.Recover(context.Background(), nil, map[string]bool{"abc": true}))

	exists, err := fresh.store.ContainerDirExists("abc")
	require.NoError(t, err)
	assert.True(t, exists, "a recognized orphan's checkpoint state must survive recovery")

	fresh.mu.Lock()
	_, ok := fresh.infos["abc"]
	fresh.mu.Unlock()
	assert.True(t, ok)
}

func TestRecoverUnknownOrphanIsCleanedUp(t *testing.T) {
	iso, mounter, _ := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	fresh := New(loadedFrom(iso), iso.store, mounter, iso.runner)
	require.NoError(t, fresh.Recover(context.Background(), nil, nil))

	exists, err := fresh.store.ContainerDirExists("abc")
	require.NoError(t, err)
	assert.False(t, exists, "checkpoint state for a container neither known nor an orphan must be torn down")
	assert.False(t, mounter.isBound("abc"))
}

func TestRecoverMissingContainerDirIsNoop(t *testing.T) {
	iso, _, _ := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	require.NoError(t, iso.Recover(context.Background(), []string{"never-existed"}, nil))

	iso.mu.Lock()
	_, ok := iso.infos["never-existed"]
	iso.mu.Unlock()
	assert.False(t, ok)
}

func TestRecoverCorruptCheckpointStrictFailsByDefault(t *testing.T) {
	iso, _, rootDir := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	infoPath := filepath.Join(rootDir, "abc", "net1", "eth0", "network", "info")
	require.NoError(t, os.WriteFile(infoPath, []byte("not json"), 0o644))

	fresh := New(loadedFrom(iso), iso.store, iso.mounter, iso.runner)
	err = fresh.Recover(context.Background(), []string{"abc"}, nil)
	assert.Error(t, err)
}

func TestRecoverMissingCheckpointFileThenCleanupSucceeds(t *testing.T) {
	iso, _, rootDir := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	infoPath := filepath.Join(rootDir, "abc", "net1", "eth0", "network", "info")
	require.NoError(t, os.Remove(infoPath))

	fresh := New(loadedFrom(iso), iso.store, iso.mounter, iso.runner)
	require.NoError(t, fresh.Recover(context.Background(), []string{"abc"}, nil))

	fresh.mu.Lock()
	info, ok := fresh.infos["abc"]
	fresh.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "eth0", info.Attachments["net1"].IfName)
	assert.Nil(t, info.Attachments["net1"].Result, "a missing checkpoint file leaves no parsed result behind")

	require.NoError(t, fresh.Cleanup(context.Background(), "abc"))

	exists, err := fresh.store.ContainerDirExists("abc")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecoverCorruptCheckpointNonStrictTolerated(t *testing.T) {
	iso, _, rootDir := newTestIsolator(t, map[string]string{"net1": "bridge"}, "")

	_, err := iso.Prepare(context.Background(), "abc", ContainerConfig{
		HasContainerSpec: true,
		Kind:             KindNative,
		Networks:         []NetworkRequest{{Name: "net1"}},
	})
	require.NoError(t, err)
	require.NoError(t, iso.Isolate(context.Background(), "abc", os.Getpid()))

	infoPath := filepath.Join(rootDir, "abc", "net1", "eth0", "network", "info")
	require.NoError(t, os.WriteFile(infoPath, []byte("not json"), 0o644))

	fresh := New(loadedFrom(iso), iso.store, iso.mounter, iso.runner, WithStrictRecovery(false))
	require.NoError(t, fresh.Recover(context.Background(), []string{"abc"}, nil))

	fresh.mu.Lock()
	info, ok := fresh.infos["abc"]
	fresh.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "eth0", info.Attachments["net1"].IfName)
}
