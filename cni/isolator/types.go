package isolator

import (
	"github.com/containernetworking/cni/pkg/types"
)

// ContainerKind distinguishes the one container type this isolator
// supports ("If the container type is not the native
// type, fail") from everything else, which it refuses outright.
type ContainerKind int

const (
	KindUnspecified ContainerKind = iota
	KindNative
	KindOther
)

// NetworkRequest is one entry of the container's requested networks, as
// handed down by the agent. A request with an empty Name represents a
// NetworkInfo with no CNI network name ("continue" — the isolator
// is transparent to it).
type NetworkRequest struct {
	Name string
}

// ContainerConfig is what the external agent supplies to Prepare.
type ContainerConfig struct {
	// HasContainerSpec mirrors executorInfo.has_container(): some
	// executors have no container info at all, in which case the
	// isolator has nothing to do.
	HasContainerSpec bool
	Kind             ContainerKind
	Networks         []NetworkRequest
}

// LaunchInfo is returned by Prepare when the container must join one or
// more CNI networks: it requests the three namespace clones the CNI
// attach/detach machinery depends on.
type LaunchInfo struct {
	CloneNewNet  bool
	CloneNewNS   bool
	CloneNewUTS  bool
}

// NetworkAttachment is the mutable per-container-per-network record of
// one container-network attachment.
type NetworkAttachment struct {
	NetworkName string
	IfName      string

	// Result is the parsed CNI plugin output, or nil until a successful
	// attach (or on recovery, if the checkpoint file is missing).
	Result types.Result
}

// ContainerInfo is the set of networks one
// container has joined (or is in the process of joining/leaving).
type ContainerInfo struct {
	// Attachments is keyed by network name, matching the in-memory
	// table invariant that a container may join a given network at
	// most once.
	Attachments map[string]*NetworkAttachment
}
