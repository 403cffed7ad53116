package config

import (
	"os"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// RuntimeConfig holds the small set of operator-facing tunables the
// isolator binary itself exposes, as distinct from the CNI network
// configuration files it loads. Defaults come from the `default` struct
// tags, applied by go-defaults before the file is read.
type RuntimeConfig struct {
	PluginsDir string `yaml:"network_cni_plugins_dir"`
	ConfigDir  string `yaml:"network_cni_config_dir"`
	RootDir    string `yaml:"root_dir" default:"/var/run/mesos/isolators/network/cni"`

	LogLevel string `yaml:"log_level" default:"info"`

	// StrictRecovery controls a crash-recovery policy choice: a corrupt checkpoint
	// file fails recovery outright when true (the default, matching the
	// source's current behavior), or is logged and treated as a missing
	// result when false.
	StrictRecovery bool `yaml:"strict_recovery" default:"true"`
}

// LoadRuntimeConfig reads an optional YAML file of operator overrides.
// A missing path is not an error: all fields simply take their defaults,
// matching the way the isolator is usually driven purely from the agent's
// own command-line flags.
func LoadRuntimeConfig(path string) (RuntimeConfig, error) {
	var rc RuntimeConfig
	defaults.SetDefaults(&rc)

	if path == "" {
		return rc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rc, nil
		}
		return rc, errors.Wrapf(err, "failed to read isolator config %q", path)
	}

	if err := yaml.Unmarshal(data, &rc); err != nil {
		return rc, errors.Wrapf(err, "failed to parse isolator config %q", path)
	}

	return rc, nil
}
