// Package hook exposes the Lifecycle Core to the surrounding container
// agent. The agent itself is out of scope: it is modeled here only as
// the producer of a runtime-state JSON blob on stdin, one step in a
// prepare/isolate/cleanup/recover lifecycle rather than a single
// one-shot ADD/DEL call.
package hook

import (
	"context"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"github.com/go-mesos/cni-isolator/cni/isolator"
)

// Isolator is the upstream agent-facing surface every hook handler in
// this package is written against, so the agent can depend on an
// abstraction instead of the concrete Lifecycle Core.
type Isolator interface {
	Prepare(ctx context.Context, containerID string, cfg isolator.ContainerConfig) (*isolator.LaunchInfo, error)
	Isolate(ctx context.Context, containerID string, pid int) error
	Cleanup(ctx context.Context, containerID string) error
	Recover(ctx context.Context, knownContainerIDs []string, orphans map[string]bool) error
	Watch(ctx context.Context, containerID string) error
	Update(ctx context.Context, containerID string) error
	Usage(ctx context.Context, containerID string) error
	Status(ctx context.Context, containerID string) error
}

var _ Isolator = (*isolator.Isolator)(nil)

// Hook adapts an Isolator to the runtime-state records the agent hands
// down at each lifecycle step, modeled on specs.State (ID + Pid)
// because that is the closest thing to a standard "the runtime told us
// about a container" record in the ecosystem.
type Hook struct {
	iso Isolator
}

// New wraps iso for agent consumption.
func New(iso Isolator) *Hook {
	return &Hook{iso: iso}
}

// HandlePrepare runs Prepare for the container described by state,
// translating the agent's container configuration into the networks it
// is requesting.
func (h *Hook) HandlePrepare(ctx context.Context, state specs.State, cfg isolator.ContainerConfig) (*isolator.LaunchInfo, error) {
	info, err := h.iso.Prepare(ctx, state.ID, cfg)
	return info, errors.WithStack(err)
}

// HandleIsolate runs Isolate once the agent has forked the container
// process and reports its pid via state.Pid.
func (h *Hook) HandleIsolate(ctx context.Context, state specs.State) error {
	if state.Pid == 0 {
		return errors.Errorf("container %s has no pid to isolate", state.ID)
	}
	return errors.WithStack(h.iso.Isolate(ctx, state.ID, state.Pid))
}

// HandleCleanup runs Cleanup for the container described by state.
func (h *Hook) HandleCleanup(ctx context.Context, state specs.State) error {
	return errors.WithStack(h.iso.Cleanup(ctx, state.ID))
}

// HandleRecover runs Recover over the container states the agent
// reports as known, plus the subset it still recognizes as orphans.
func (h *Hook) HandleRecover(ctx context.Context, known []specs.State, orphans map[string]bool) error {
	ids := make([]string, 0, len(known))
	for _, st := range known {
		ids = append(ids, st.ID)
	}
	return errors.WithStack(h.iso.Recover(ctx, ids, orphans))
}

func (h *Hook) HandleWatch(ctx context.Context, state specs.State) error {
	return errors.WithStack(h.iso.Watch(ctx, state.ID))
}

func (h *Hook) HandleUpdate(ctx context.Context, state specs.State) error {
	return errors.WithStack(h.iso.Update(ctx, state.ID))
}

func (h *Hook) HandleUsage(ctx context.Context, state specs.State) error {
	return errors.WithStack(h.iso.Usage(ctx, state.ID))
}

func (h *Hook) HandleStatus(ctx context.Context, state specs.State) error {
	return errors.WithStack(h.iso.Status(ctx, state.ID))
}
