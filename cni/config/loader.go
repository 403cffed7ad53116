// Package config loads and validates the CNI network configuration
// directory at isolator startup (component 4.A, "Config Loader"), and
// the isolator's own small operator-facing configuration file.
package config

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-mesos/cni-isolator/cni/spec"
)

// NetworkConfigInfo pairs a parsed NetworkConfig with the path of the file
// it came from, pairing an on-disk path with its parsed value.
type NetworkConfigInfo struct {
	Config     spec.NetworkConfig
	SourcePath string
}

// Loaded is the result of a successful Load call.
type Loaded struct {
	// Networks maps network name to its configuration. Read-only after
	// Load returns (invariant: "configs ... read-only thereafter").
	Networks map[string]NetworkConfigInfo

	// Passive is true when both directories were left unset: the
	// isolator accepts only host-network containers.
	Passive bool

	RootDir   string
	PluginDir string
}

// Load implements the Config Loader algorithm. pluginDir and
// configDir are as supplied on the command line; rootDir is the
// checkpoint root (already created and canonicalized by the Mount
// Manager before Load is called, so Load only needs to canonicalize
// pluginDir).
func Load(pluginDir, configDir, rootDir string) (*Loaded, error) {
	if pluginDir == "" && configDir == "" {
		log.Info("network_cni_plugins_dir and network_cni_config_dir are both unset; running in passive mode")
		return &Loaded{Networks: map[string]NetworkConfigInfo{}, Passive: true, RootDir: rootDir}, nil
	}

	if err := requireRoot(); err != nil {
		return nil, err
	}

	if pluginDir == "" {
		return nil, errors.New("missing required network_cni_plugins_dir")
	}
	if configDir == "" {
		return nil, errors.New("missing required network_cni_config_dir")
	}

	if _, err := os.Stat(pluginDir); err != nil {
		return nil, errors.Wrapf(err, "CNI plugin directory %q does not exist", pluginDir)
	}
	if _, err := os.Stat(configDir); err != nil {
		return nil, errors.Wrapf(err, "CNI network configuration directory %q does not exist", configDir)
	}

	canonicalPluginDir, err := filepath.EvalSymlinks(pluginDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to canonicalize CNI plugin directory %q", pluginDir)
	}

	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list CNI network configuration directory %q", configDir)
	}

	networks := map[string]NetworkConfigInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(configDir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read CNI network configuration file %q", path)
		}

		nc, err := spec.ParseNetworkConfig(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse CNI network configuration file %q", path)
		}

		if _, dup := networks[nc.Name]; dup {
			return nil, errors.Errorf("multiple CNI network configuration files share the name %q", nc.Name)
		}

		if err := checkPluginExecutable(canonicalPluginDir, nc.Type, path); err != nil {
			return nil, err
		}
		if nc.IPAMType != "" {
			if err := checkPluginExecutable(canonicalPluginDir, nc.IPAMType, path); err != nil {
				return nil, err
			}
		}

		networks[nc.Name] = NetworkConfigInfo{Config: *nc, SourcePath: path}
	}

	if len(networks) == 0 {
		return nil, errors.Errorf("unable to find any valid CNI network configuration files under %q", configDir)
	}

	return &Loaded{
		Networks:  networks,
		RootDir:   rootDir,
		PluginDir: canonicalPluginDir,
	}, nil
}

func checkPluginExecutable(pluginDir, pluginType, sourcePath string) error {
	pluginPath := filepath.Join(pluginDir, pluginType)

	info, err := os.Stat(pluginPath)
	if err != nil {
		return errors.Wrapf(err, "failed to find CNI plugin %q used by configuration file %q", pluginPath, sourcePath)
	}

	if info.Mode().Perm()&0o111 == 0 {
		return errors.Errorf(
			"the CNI plugin %q used by configuration file %q is not executable",
			pluginPath, sourcePath)
	}

	return nil
}

// requireRoot fails startup unless the process is running with root
// privileges, needed for mount/namespace operations later in the
// lifecycle.
func requireRoot() error {
	if os.Geteuid() == 0 {
		return nil
	}

	who := "unknown user"
	if u, err := user.Current(); err == nil {
		who = u.Username
	}

	return errors.Errorf("the CNI isolator requires root privileges, running as %s", who)
}
