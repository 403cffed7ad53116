package hook

import (
	"context"
	"testing"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mesos/cni-isolator/cni/isolator"
)

// fakeIsolator is a hand-written stand-in for the Isolator interface,
// recording every call it receives so tests can assert on arguments
// without pulling in the real Lifecycle Core.
type fakeIsolator struct {
	prepareErr, isolateErr, cleanupErr, recoverErr error
	prepareInfo                                    *isolator.LaunchInfo

	lastContainerID string
	lastPid         int
	lastCfg         isolator.ContainerConfig
	lastKnown       []string
	lastOrphans     map[string]bool
}

func (f *fakeIsolator) Prepare(_ context.Context, containerID string, cfg isolator.ContainerConfig) (*isolator.LaunchInfo, error) {
	f.lastContainerID = containerID
	f.lastCfg = cfg
	return f.prepareInfo, f.prepareErr
}

func (f *fakeIsolator) Isolate(_ context.Context, containerID string, pid int) error {
	f.lastContainerID = containerID
	f.lastPid = pid
	return f.isolateErr
}

func (f *fakeIsolator) Cleanup(_ context.Context, containerID string) error {
	f.lastContainerID = containerID
	return f.cleanupErr
}

func (f *fakeIsolator) Recover(_ context.Context, known []string, orphans map[string]bool) error {
	f.lastKnown = known
	f.lastOrphans = orphans
	return f.recoverErr
}

func (f *fakeIsolator) Watch(_ context.Context, _ string) error  { return nil }
func (f *fakeIsolator) Update(_ context.Context, _ string) error { return nil }
func (f *fakeIsolator) Usage(_ context.Context, _ string) error  { return nil }
func (f *fakeIsolator) Status(_ context.Context, _ string) error { return nil }

func TestHandlePrepare(t *testing.T) {
	fi := &fakeIsolator{prepareInfo: &isolator.LaunchInfo{CloneNewNet: true}}
	h := New(fi)

	info, err := h.HandlePrepare(context.Background(), specs.State{ID: "abc"}, isolator.ContainerConfig{HasContainerSpec: true})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.CloneNewNet)
	assert.Equal(t, "abc", fi.lastContainerID)
}

func TestHandlePrepareError(t *testing.T) {
	fi := &fakeIsolator{prepareErr: assert.AnError}
	h := New(fi)

	_, err := h.HandlePrepare(context.Background(), specs.State{ID: "abc"}, isolator.ContainerConfig{})
	assert.Error(t, err)
}

func TestHandleIsolate(t *testing.T) {
	fi := &fakeIsolator{}
	h := New(fi)

	err := h.HandleIsolate(context.Background(), specs.State{ID: "abc", Pid: 1234})
	require.NoError(t, err)
	assert.Equal(t, "abc", fi.lastContainerID)
	assert.Equal(t, 1234, fi.lastPid)
}

func TestHandleIsolateMissingPidRejected(t *testing.T) {
	fi := &fakeIsolator{}
	h := New(fi)

	err := h.HandleIsolate(context.Background(), specs.State{ID: "abc", Pid: 0})
	assert.Error(t, err)
}

func TestHandleCleanup(t *testing.T) {
	fi := &fakeIsolator{}
	h := New(fi)

	require.NoError(t, h.HandleCleanup(context.Background(), specs.State{ID: "abc"}))
	assert.Equal(t, "abc", fi.lastContainerID)
}

func TestHandleRecoverExtractsIDsFromStates(t *testing.T) {
	fi := &fakeIsolator{}
	h := New(fi)

	known := []specs.State{{ID: "a"}, {ID: "b"}}
	orphans := map[string]bool{"c": true}
	require.NoError(t, h.HandleRecover(context.Background(), known, orphans))

	assert.Equal(t, []string{"a", "b"}, fi.lastKnown)
	assert.Equal(t, orphans, fi.lastOrphans)
}

func TestHandleWatchUpdateUsageStatus(t *testing.T) {
	fi := &fakeIsolator{}
	h := New(fi)

	state := specs.State{ID: "abc"}
	assert.NoError(t, h.HandleWatch(context.Background(), state))
	assert.NoError(t, h.HandleUpdate(context.Background(), state))
	assert.NoError(t, h.HandleUsage(context.Background(), state))
	assert.NoError(t, h.HandleStatus(context.Background(), state))
}
