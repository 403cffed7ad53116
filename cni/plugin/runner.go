// Package plugin implements the CNI Plugin Runner: spawning a
// plugin binary with the CNI environment contract, piping the network
// configuration to its stdin, and capturing its stdout and exit status.
package plugin

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

const defaultPATH = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Env is the set of CNI environment variables for one invocation. PATH
// is resolved by Run, not stored here, to match the original's behavior
// of inheriting the agent's own PATH at invocation time rather than
// snapshotting it once at startup.
type Env struct {
	Command     string // "ADD" or "DEL"
	ContainerID string
	NetNS       string // path to the bind-mounted namespace handle, never a /proc/<pid> path
	IfName      string
}

// Result is the outcome of one plugin invocation.
type Result struct {
	// ExitCode is nil if the process's exit code is unreadable (it was
	// terminated by a signal). Both attach() and detach() treat that as
	// a failure and report it separately from a non-zero exit.
	ExitCode *int
	Stdout   []byte
}

// Runner spawns CNI plugin binaries out of a single plugin directory.
type Runner struct {
	pluginDir string
}

func New(pluginDir string) *Runner {
	return &Runner{pluginDir: pluginDir}
}

// Run executes the plugin named by pluginType, feeding configBytes (the
// exact contents of the network configuration file) to its stdin. The
// call blocks until the subprocess has been reaped and its stdout fully
// read; ctx is honored only up to the point the subprocess is started —
// once spawned, the plugin runs to completion regardless of ctx: there
// is no cancellation at plugin granularity.
func (r *Runner) Run(ctx context.Context, pluginType string, env Env, configBytes []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	binPath := filepath.Join(r.pluginDir, pluginType)

	cmd := exec.Command(binPath)
	cmd.Args = []string{pluginType}
	cmd.Dir = r.pluginDir
	cmd.Env = buildEnviron(r.pluginDir, env)
	cmd.Stdin = bytes.NewReader(configBytes)

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to open /dev/null for plugin stderr")
	}
	defer devNull.Close()
	cmd.Stderr = devNull

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to create stdout pipe for CNI plugin %q", pluginType)
	}

	// Deliberately no SysProcAttr.Setsid: the plugin must remain in the
	// agent's own session so signals and tools like iptables that
	// expect a controlling context behave the same way they would for
	// the agent itself.
	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrapf(err, "failed to execute CNI plugin %q", pluginType)
	}

	// Read stdout to completion before Wait to avoid the pipe-deadlock
	// classic to this pattern: a plugin that writes more than the pipe
	// buffer before exiting would otherwise block forever on a Wait
	// that is itself blocked on a reader that hasn't started yet.
	out, readErr := io.ReadAll(stdout)

	waitErr := cmd.Wait()

	if readErr != nil {
		return Result{}, errors.Wrapf(readErr, "failed to read stdout from CNI plugin %q", pluginType)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// Negative ExitCode means the process was signaled
				// rather than exiting normally: treat as unreadable.
				return Result{Stdout: out}, nil
			}
			return Result{ExitCode: &code, Stdout: out}, nil
		}
		return Result{}, errors.Wrapf(waitErr, "failed to reap CNI plugin %q subprocess", pluginType)
	}

	zero := 0
	return Result{ExitCode: &zero, Stdout: out}, nil
}

func buildEnviron(pluginDir string, env Env) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPATH
	}

	return []string{
		"CNI_COMMAND=" + env.Command,
		"CNI_CONTAINERID=" + env.ContainerID,
		"CNI_PATH=" + pluginDir,
		"CNI_IFNAME=" + env.IfName,
		"CNI_NETNS=" + env.NetNS,
		"PATH=" + path,
	}
}
