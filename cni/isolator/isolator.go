// Package isolator implements the Lifecycle Core: the state
// machine coordinating network-namespace creation, CNI plugin
// invocation, checkpointing, and crash recovery, one container at a
// time but with per-network fan-out concurrency within one hook call.
package isolator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-mesos/cni-isolator/cni/config"
	"github.com/go-mesos/cni-isolator/cni/mount"
	"github.com/go-mesos/cni-isolator/cni/plugin"
	"github.com/go-mesos/cni-isolator/cni/store"
)

// Isolator owns the in-memory container table and drives every CNI
// network attach/detach for every container the agent hands it. There
// is exactly one Isolator per agent process, matching the single
// logical actor.
type Isolator struct {
	// mu guards infos. Every hook acquires it only for the synchronous
	// bookkeeping portions of its work (map reads/writes); it is never
	// held across a plugin invocation or filesystem I/O, so unrelated
	// containers' hooks never block on each other waiting for a plugin
	// to exit.
	mu    sync.Mutex
	infos map[string]*ContainerInfo

	configs map[string]config.NetworkConfigInfo
	passive bool

	rootDir   string
	pluginDir string

	store   *store.Store
	mounter mount.Mounter
	runner  *plugin.Runner
	index   *store.BoltIndex // nil if no side index configured

	strictRecovery bool

	log log.FieldLogger
}

// Option configures optional Isolator behavior.
type Option func(*Isolator)

// WithBoltIndex attaches an operator-introspection side index. It is
// never consulted by Recover or required for correctness.
func WithBoltIndex(index *store.BoltIndex) Option {
	return func(i *Isolator) { i.index = index }
}

// WithStrictRecovery toggles the crash-recovery strictness policy: when true (the
// default), a corrupt checkpoint file fails recovery outright; when
// false, it is logged and treated as a missing result.
func WithStrictRecovery(strict bool) Option {
	return func(i *Isolator) { i.strictRecovery = strict }
}

// WithLogger overrides the package-level logrus logger, letting tests
// inject a buffer-backed logger instead of asserting on stdout.
func WithLogger(l log.FieldLogger) Option {
	return func(i *Isolator) { i.log = l }
}

// New builds an Isolator from a Loaded configuration. For the passive
// mode, loaded.Passive is true and configs is empty:
// the isolator will accept only host-network containers.
func New(loaded *config.Loaded, st *store.Store, mounter mount.Mounter, runner *plugin.Runner, opts ...Option) *Isolator {
	iso := &Isolator{
		infos:          map[string]*ContainerInfo{},
		configs:        loaded.Networks,
		passive:        loaded.Passive,
		rootDir:        loaded.RootDir,
		pluginDir:      loaded.PluginDir,
		store:          st,
		mounter:        mounter,
		runner:         runner,
		strictRecovery: true,
		log:            log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(iso)
	}
	return iso
}

// Prepare validates and records a container's requested CNI networks.
func (iso *Isolator) Prepare(_ context.Context, containerID string, cfg ContainerConfig) (*LaunchInfo, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	if _, exists := iso.infos[containerID]; exists {
		return nil, errors.New("container has already been prepared")
	}

	if !cfg.HasContainerSpec {
		return nil, nil
	}

	if cfg.Kind != KindNative {
		return nil, errors.New("CNI networks can only be prepared for the native container type")
	}

	var named []NetworkRequest
	for _, req := range cfg.Networks {
		if req.Name != "" {
			named = append(named, req)
		}
	}
	if len(named) == 0 {
		return nil, nil
	}

	if iso.passive {
		return nil, errors.Errorf(
			"container requested CNI network %q but the isolator is running in passive mode "+
				"(no plugin/config directories configured)", named[0].Name)
	}

	seen := map[string]bool{}
	attachments := map[string]*NetworkAttachment{}
	for i, req := range named {
		if _, known := iso.configs[req.Name]; !known {
			return nil, errors.Errorf("unknown CNI network %q", req.Name)
		}
		if seen[req.Name] {
			return nil, errors.Errorf("attempted to join CNI network %q multiple times", req.Name)
		}
		seen[req.Name] = true

		attachments[req.Name] = &NetworkAttachment{
			NetworkName: req.Name,
			IfName:      fmt.Sprintf("eth%d", i),
		}
	}

	iso.infos[containerID] = &ContainerInfo{Attachments: attachments}

	return &LaunchInfo{CloneNewNet: true, CloneNewNS: true, CloneNewUTS: true}, nil
}

// Isolate attaches a container's namespace to its requested networks.
func (iso *Isolator) Isolate(ctx context.Context, containerID string, pid int) error {
	info, ok := iso.snapshot(containerID)
	if !ok {
		return nil
	}

	if err := iso.store.CreateContainerDir(containerID); err != nil {
		return err
	}

	if err := iso.mounter.BindNamespace(iso.rootDir, containerID, pid); err != nil {
		return err
	}

	nsPath := store.NamespacePath(iso.rootDir, containerID)

	names := make([]string, 0, len(info.Attachments))
	for name := range info.Attachments {
		names = append(names, name)
	}

	// Await every attach before returning, success or failure: an ADD
	// must never still be in flight when cleanup() begins issuing DELs
	// (the await-all discipline every fan-out in this package follows).
	if err := fanOut(names, func(name string) error {
		return iso.attach(ctx, containerID, name, nsPath)
	}); err != nil {
		return err
	}

	if iso.index != nil {
		_ = iso.recordIndex(containerID)
	}

	return nil
}

// Cleanup detaches a container from its CNI networks and releases its state.
func (iso *Isolator) Cleanup(ctx context.Context, containerID string) error {
	info, ok := iso.snapshot(containerID)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(info.Attachments))
	for name := range info.Attachments {
		names = append(names, name)
	}

	if err := fanOut(names, func(name string) error {
		return iso.detach(ctx, containerID, name)
	}); err != nil {
		// Leave infos intact: a future retry may progress, per the
		// propagation policy for the plugin-failure error kind.
		return err
	}

	if err := iso.mounter.UnbindNamespace(iso.rootDir, containerID); err != nil {
		return err
	}

	if err := iso.store.RemoveContainerDir(containerID); err != nil {
		return err
	}

	iso.mu.Lock()
	delete(iso.infos, containerID)
	iso.mu.Unlock()

	if iso.index != nil {
		_ = iso.index.Delete(containerID)
	}

	return nil
}

// Watch, Update, Usage, Status are deliberately inert: they exist only
// to satisfy the upstream hook surface ("Other hooks").
func (iso *Isolator) Watch(_ context.Context, _ string) error  { return nil }
func (iso *Isolator) Update(_ context.Context, _ string) error { return nil }
func (iso *Isolator) Usage(_ context.Context, _ string) error  { return nil }
func (iso *Isolator) Status(_ context.Context, _ string) error { return nil }

// snapshot returns a shallow copy of the attachments map for containerID
// so callers can iterate it without holding iso.mu across I/O. The
// NetworkAttachment pointers themselves are shared and still mutated
// under lock by attach().
func (iso *Isolator) snapshot(containerID string) (*ContainerInfo, bool) {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	info, ok := iso.infos[containerID]
	if !ok {
		return nil, false
	}

	cp := &ContainerInfo{Attachments: make(map[string]*NetworkAttachment, len(info.Attachments))}
	for k, v := range info.Attachments {
		cp.Attachments[k] = v
	}
	return cp, true
}

// fanOut runs fn concurrently for every item and waits for all of them
// to finish regardless of individual failures, then joins every
// non-nil error's message with a newline.
// This deliberately does not use errgroup.Group: errgroup cancels its
// derived context and reports only the first error, which would both
// violate the "no ADD/DEL may be left outstanding" await-all guarantee
// and lose every failure message but one.
func fanOut(items []string, fn func(string) error) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		messages []string
	)

	for _, item := range items {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(item); err != nil {
				mu.Lock()
				messages = append(messages, err.Error())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(messages) == 0 {
		return nil
	}
	return errors.New(strings.Join(messages, "\n"))
}
