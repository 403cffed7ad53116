package isolator

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-mesos/cni-isolator/cni/spec"
)

// Recover rebuilds infos for every container the agent still manages
// (knownContainerIDs) and for every orphan container it still
// recognizes (orphans), then removes whatever checkpoint state belongs
// to neither — containers this isolator has no record of at all, left
// behind by a crash the agent itself never noticed.
func (iso *Isolator) Recover(ctx context.Context, knownContainerIDs []string, orphans map[string]bool) error {
	onDisk, err := iso.store.ListContainers()
	if err != nil {
		return err
	}
	remaining := map[string]bool{}
	for _, cid := range onDisk {
		remaining[cid] = true
	}

	for _, cid := range knownContainerIDs {
		if err := iso._recover(cid); err != nil {
			return errors.Wrapf(err, "failed to recover container %s", cid)
		}
		delete(remaining, cid)
	}

	for cid := range orphans {
		if !remaining[cid] {
			continue
		}
		if err := iso._recover(cid); err != nil {
			return errors.Wrapf(err, "failed to recover orphan container %s", cid)
		}
		delete(remaining, cid)
	}

	// Whatever is left under rootDir belongs to neither a known container
	// nor a recognized orphan: the agent has no memory of it at all, so
	// it is unsafe to leave namespace bind mounts and plugin state lying
	// around forever. Tear it down now rather than waiting for a cleanup
	// call that will never come.
	for cid := range remaining {
		if err := iso._recover(cid); err != nil {
			iso.log.WithError(err).WithField("container_id", cid).
				Warn("failed to recover unknown orphan container, skipping cleanup")
			continue
		}
		if err := iso.Cleanup(ctx, cid); err != nil {
			iso.log.WithError(err).WithField("container_id", cid).
				Warn("failed to clean up unknown orphan container")
		}
	}

	return nil
}

// _recover reconstructs infos[cid] purely from on-disk checkpoint state:
// a missing container directory is not an error (the container may
// never have joined a CNI network), more than one interface directory
// under a single network is a recovery error (it violates the
// one-attachment-per-network invariant), a missing network/info file is
// always tolerated, and a corrupt one is tolerated only when
// strictRecovery is false.
func (iso *Isolator) _recover(containerID string) error {
	exists, err := iso.store.ContainerDirExists(containerID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	networks, err := iso.store.ListNetworks(containerID)
	if err != nil {
		return err
	}

	attachments := map[string]*NetworkAttachment{}
	for _, networkName := range networks {
		ifaces, err := iso.store.ListInterfaces(containerID, networkName)
		if err != nil {
			return err
		}
		if len(ifaces) == 0 {
			continue
		}
		if len(ifaces) > 1 {
			return errors.Errorf(
				"container %s has %d interfaces checkpointed for CNI network %q, expected at most 1",
				containerID, len(ifaces), networkName)
		}
		ifName := ifaces[0]

		att := &NetworkAttachment{NetworkName: networkName, IfName: ifName}

		data, found, err := iso.store.ReadInfo(containerID, networkName, ifName)
		if err != nil {
			return err
		}
		if !found {
			iso.log.WithFields(log.Fields{
				"container_id": containerID,
				"network":      networkName,
			}).Warn("no checkpointed CNI result found during recovery, continuing without it")
			attachments[networkName] = att
			continue
		}

		parsed, err := spec.ParseResult(data)
		if err != nil {
			if iso.strictRecovery {
				return errors.Wrapf(err, "failed to parse checkpointed CNI result for container %s network %q",
					containerID, networkName)
			}
			iso.log.WithError(err).WithFields(log.Fields{
				"container_id": containerID,
				"network":      networkName,
			}).Warn("ignoring unparseable checkpointed CNI result during non-strict recovery")
			attachments[networkName] = att
			continue
		}
		att.Result = parsed
		attachments[networkName] = att
	}

	iso.mu.Lock()
	iso.infos[containerID] = &ContainerInfo{Attachments: attachments}
	iso.mu.Unlock()

	return nil
}
