// Package spec parses the CNI wire formats this isolator consumes: the
// network configuration files under the config directory, and the
// result/error JSON a plugin prints to stdout.
package spec

import (
	"encoding/json"

	"github.com/containernetworking/cni/pkg/types"
	"github.com/pkg/errors"
)

// NetworkConfig is the parsed form of one CNI network configuration file.
// Only the fields the isolator cares about are surfaced; everything else
// in the file is kept in Raw so it can be piped verbatim to the plugin's
// stdin.
type NetworkConfig struct {
	Name       string
	Type       string
	IPAMType   string
	CNIVersion string

	// Raw holds the exact bytes read from disk. The plugin contract
	// requires the plugin receive the full config file content on stdin,
	// not a re-marshalled version of it.
	Raw []byte
}

// ParseNetworkConfig parses raw as a CNI network configuration file.
func ParseNetworkConfig(raw []byte) (*NetworkConfig, error) {
	var conf types.NetConf
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, errors.Wrap(err, "invalid CNI network configuration")
	}

	if conf.Name == "" {
		return nil, errors.New("CNI network configuration is missing 'name'")
	}
	if conf.Type == "" {
		return nil, errors.New("CNI network configuration is missing 'type'")
	}

	nc := &NetworkConfig{
		Name:       conf.Name,
		Type:       conf.Type,
		CNIVersion: conf.CNIVersion,
		Raw:        raw,
	}
	if !conf.IPAM.IsEmpty() {
		nc.IPAMType = conf.IPAM.Type
	}
	return nc, nil
}
