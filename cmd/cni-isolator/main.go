// Command cni-isolator drives the Lifecycle Core from the command line,
// one small urfave/cli app, one subcommand per hook, state read as
// JSON off stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/go-mesos/cni-isolator/cni/config"
	"github.com/go-mesos/cni-isolator/cni/hook"
	"github.com/go-mesos/cni-isolator/cni/isolator"
	"github.com/go-mesos/cni-isolator/cni/mount"
	"github.com/go-mesos/cni-isolator/cni/plugin"
	"github.com/go-mesos/cni-isolator/cni/store"
)

var (
	pluginDirFlag = &cli.StringFlag{Name: "network-cni-plugins-dir", Usage: "directory containing CNI plugin executables"}
	configDirFlag = &cli.StringFlag{Name: "network-cni-config-dir", Usage: "directory containing CNI network configuration files"}
	rootDirFlag   = &cli.StringFlag{Name: "root-dir", Usage: "checkpoint root directory"}
	configFlag    = &cli.StringFlag{Name: "config", Usage: "optional isolator runtime configuration file"}
	indexFlag     = &cli.StringFlag{Name: "index-db", Usage: "optional bolt index path for operator introspection"}
)

func main() {
	app := &cli.App{
		Name:  "cni-isolator",
		Usage: "CNI network lifecycle manager for containerized workloads",
		Flags: []cli.Flag{pluginDirFlag, configDirFlag, rootDirFlag, configFlag, indexFlag},
		Commands: []*cli.Command{
			{Name: "prepare", Usage: "validate a container's requested CNI networks", Action: withHook(runPrepare)},
			{Name: "isolate", Usage: "attach a container's namespace to its CNI networks", Action: withHook(runIsolate)},
			{Name: "cleanup", Usage: "detach a container from its CNI networks", Action: withHook(runCleanup)},
			{Name: "recover", Usage: "rebuild in-memory state from checkpoints on restart", Action: withHook(runRecover)},
			{Name: "status", Usage: "print recorded CNI attachments for a container, or list all of them", Action: runStatus, ArgsUsage: "[container-id]"},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("[cni-isolator] %+v", err)
		os.Exit(1)
	}
}

func withHook(fn func(*cli.Context, *hook.Hook) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		defer func() {
			if err != nil {
				log.Errorf("[cni-isolator] %s failed: %+v", c.Command.Name, err)
			}
		}()

		rc, err := config.LoadRuntimeConfig(c.String("config"))
		if err != nil {
			return errors.WithStack(err)
		}
		if err := setupLog(rc.LogLevel); err != nil {
			return errors.WithStack(err)
		}

		pluginDir := firstNonEmpty(c.String("network-cni-plugins-dir"), rc.PluginsDir)
		configDir := firstNonEmpty(c.String("network-cni-config-dir"), rc.ConfigDir)
		rootDir := firstNonEmpty(c.String("root-dir"), rc.RootDir)

		if !rc.StrictRecovery {
			log.Warn("[cni-isolator] running with strict_recovery disabled")
		}

		rootDir, err = mount.Setup(rootDir)
		if err != nil {
			return errors.WithStack(err)
		}

		loaded, err := config.Load(pluginDir, configDir, rootDir)
		if err != nil {
			return errors.WithStack(err)
		}

		st := store.New(rootDir)
		runner := plugin.New(loaded.PluginDir)

		opts := []isolator.Option{isolator.WithStrictRecovery(rc.StrictRecovery)}
		if indexPath := c.String("index-db"); indexPath != "" {
			idx := store.NewBoltIndex(indexPath)
			if err := idx.Open(); err != nil {
				return errors.WithStack(err)
			}
			defer idx.Close()
			opts = append(opts, isolator.WithBoltIndex(idx))
		}

		iso := isolator.New(loaded, st, mount.NewMounter(), runner, opts...)
		h := hook.New(iso)

		return fn(c, h)
	}
}

func runPrepare(_ *cli.Context, h *hook.Hook) error {
	req, cfg, err := hook.ReadPrepareRequest(os.Stdin)
	if err != nil {
		return err
	}

	info, err := h.HandlePrepare(context.Background(), req.State, cfg)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("{}")
		return nil
	}
	fmt.Printf("{\"clone_new_net\":%t,\"clone_new_ns\":%t,\"clone_new_uts\":%t}\n",
		info.CloneNewNet, info.CloneNewNS, info.CloneNewUTS)
	return nil
}

func runIsolate(_ *cli.Context, h *hook.Hook) error {
	state, err := hook.ReadState(os.Stdin)
	if err != nil {
		return err
	}
	return h.HandleIsolate(context.Background(), state)
}

func runCleanup(_ *cli.Context, h *hook.Hook) error {
	state, err := hook.ReadState(os.Stdin)
	if err != nil {
		return err
	}
	return h.HandleCleanup(context.Background(), state)
}

func runRecover(_ *cli.Context, h *hook.Hook) error {
	req, orphans, err := hook.ReadRecoverRequest(os.Stdin)
	if err != nil {
		return err
	}
	return h.HandleRecover(context.Background(), req.Known, orphans)
}

// runStatus prints the BoltIndex's recorded attachments for a single
// container (given its ID as the sole argument), or every container on
// record when invoked with no arguments. It talks only to the index,
// not the checkpoint tree: it reflects the isolator's last write, not
// necessarily the current on-disk truth.
func runStatus(c *cli.Context) error {
	indexPath := c.String("index-db")
	if indexPath == "" {
		return errors.New("status requires --index-db")
	}

	idx := store.NewBoltIndex(indexPath)
	if err := idx.Open(); err != nil {
		return errors.WithStack(err)
	}
	defer idx.Close()

	if containerID := c.Args().First(); containerID != "" {
		summary, err := idx.Get(containerID)
		if err != nil {
			return errors.WithStack(err)
		}
		if summary == nil {
			return errors.Errorf("no recorded attachments for container %q", containerID)
		}
		return printJSON(summary)
	}

	ids, err := idx.List()
	if err != nil {
		return errors.WithStack(err)
	}

	summaries := make([]*store.AttachmentSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := idx.Get(id)
		if err != nil {
			return errors.WithStack(err)
		}
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}
	return printJSON(summaries)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Println(string(data))
	return nil
}

func setupLog(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
