package isolator

import (
	"context"
	"time"

	"github.com/containernetworking/cni/pkg/types"
	types100 "github.com/containernetworking/cni/pkg/types/100"
	"github.com/containernetworking/cni/pkg/version"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-mesos/cni-isolator/cni/plugin"
	"github.com/go-mesos/cni-isolator/cni/spec"
	"github.com/go-mesos/cni-isolator/cni/store"
)

// attach runs one CNI ADD for containerID on networkName.
func (iso *Isolator) attach(ctx context.Context, containerID, networkName, nsPath string) error {
	ifName, ok := iso.attachmentIfName(containerID, networkName)
	if !ok {
		return errors.Errorf("no attachment recorded for network %q", networkName)
	}

	if err := iso.store.CreateInterfaceDir(containerID, networkName, ifName); err != nil {
		return err
	}

	netConf, ok := iso.configs[networkName]
	if !ok {
		return errors.Errorf("unknown CNI network %q", networkName)
	}

	env := plugin.Env{
		Command:     "ADD",
		ContainerID: containerID,
		NetNS:       nsPath,
		IfName:      ifName,
	}

	result, err := iso.runner.Run(ctx, netConf.Config.Type, env, netConf.Config.Raw)
	if err != nil {
		return errors.Wrapf(err, "failed to execute CNI plugin %q", netConf.Config.Type)
	}

	if result.ExitCode == nil {
		return errors.Errorf("failed to reap the CNI plugin %q subprocess", netConf.Config.Type)
	}

	if *result.ExitCode != 0 {
		return pluginFailureError(netConf.Config.Type, "ADD", networkName, containerID, result.Stdout)
	}

	parsed, err := spec.ParseResult(result.Stdout)
	if err != nil {
		return errors.Wrapf(err, "failed to parse the output of CNI plugin %q", netConf.Config.Type)
	}

	iso.logAssignedAddresses(containerID, networkName, parsed)

	if err := iso.store.WriteInfo(containerID, networkName, ifName, result.Stdout); err != nil {
		return err
	}

	iso.mu.Lock()
	if info, ok := iso.infos[containerID]; ok {
		if att, ok := info.Attachments[networkName]; ok {
			att.Result = parsed
		}
	}
	iso.mu.Unlock()

	return nil
}

// detach runs one CNI DEL for containerID on networkName.
func (iso *Isolator) detach(ctx context.Context, containerID, networkName string) error {
	ifName, ok := iso.attachmentIfName(containerID, networkName)
	if !ok {
		return errors.Errorf("no attachment recorded for network %q", networkName)
	}

	netConf, ok := iso.configs[networkName]
	if !ok {
		return errors.Errorf("unknown CNI network %q", networkName)
	}

	nsPath := store.NamespacePath(iso.rootDir, containerID)

	env := plugin.Env{
		Command:     "DEL",
		ContainerID: containerID,
		NetNS:       nsPath,
		IfName:      ifName,
	}

	result, err := iso.runner.Run(ctx, netConf.Config.Type, env, netConf.Config.Raw)
	if err != nil {
		return errors.Wrapf(err, "failed to execute CNI plugin %q", netConf.Config.Type)
	}

	if result.ExitCode == nil {
		return errors.Errorf("failed to reap the CNI plugin %q subprocess", netConf.Config.Type)
	}

	if *result.ExitCode != 0 {
		return pluginFailureError(netConf.Config.Type, "DEL", networkName, containerID, result.Stdout)
	}

	return iso.store.RemoveInterfaceDir(containerID, networkName, ifName)
}

func (iso *Isolator) attachmentIfName(containerID, networkName string) (string, bool) {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	info, ok := iso.infos[containerID]
	if !ok {
		return "", false
	}
	att, ok := info.Attachments[networkName]
	if !ok {
		return "", false
	}
	return att.IfName, true
}

func pluginFailureError(pluginType, command, networkName, containerID string, stdout []byte) error {
	if pe, err := spec.ParsePluginError(stdout); err == nil {
		return errors.Errorf(
			"the CNI plugin %q failed to %s container %s on network %q: %s",
			pluginType, command, containerID, networkName, pe.Error())
	}
	return errors.Errorf(
		"the CNI plugin %q failed to %s container %s on network %q: %s",
		pluginType, command, containerID, networkName, string(stdout))
}

// logAssignedAddresses logs the IPs a successful ADD assigned, purely for
// operator visibility.
// It is best-effort: a plugin result that cannot be converted to the
// current CNI version is not logged at all rather than failing the
// attach, since the attach itself already succeeded.
func (iso *Isolator) logAssignedAddresses(containerID, networkName string, result types.Result) {
	versioned, err := result.GetAsVersion(version.Current())
	if err != nil {
		return
	}

	r, ok := versioned.(*types100.Result)
	if !ok || len(r.IPs) == 0 {
		return
	}

	for _, ip := range r.IPs {
		iso.log.WithFields(log.Fields{
			"container_id": containerID,
			"network":      networkName,
			"ip":           ip.Address.String(),
		}).Info("assigned address from CNI network")
	}
}

func (iso *Isolator) recordIndex(containerID string) error {
	iso.mu.Lock()
	info, ok := iso.infos[containerID]
	var networks map[string]string
	if ok {
		networks = make(map[string]string, len(info.Attachments))
		for name, att := range info.Attachments {
			networks[name] = att.IfName
		}
	}
	iso.mu.Unlock()

	if !ok {
		return nil
	}

	return iso.index.Put(store.AttachmentSummary{
		ContainerID: containerID,
		Networks:    networks,
		UpdatedAt:   time.Now(),
	})
}
