//go:build linux

// Package assemble implements the environment assembler:
// given a flattened environment, it mutates the calling process's mount
// namespace to produce the composed filesystem view the environment
// describes, recording every mutation in a path-state tree.
//
// It walks an ordered overlay list and mounts bind/overlay/virtual
// filesystems into a staging root in the same bottom-up, dispatch-by-kind
// shape used for container namespace setup elsewhere in this codebase,
// generalized from a fixed overlay-list protocol to per-directive Kind
// dispatch plus a use_ldconfig post-step.
package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wormholefs/wormhole/internal/fsops"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/pathstate"
	"github.com/wormholefs/wormhole/internal/runtimefacade"
)

// State is the per-environment assembly state machine.
type State int

const (
	Configured State = iota
	Assembling
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Assembling:
		return "Assembling"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "State(?)"
	}
}

// Logger receives a trace line per skipped/recoverable condition, mirroring
// "skipped with a trace" failure semantics.
type Logger interface {
	Printf(format string, args ...any)
}

// nopLogger discards everything; the zero value of Options is usable.
type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Options configures one assembly run.
type Options struct {
	// Runtime resolves Image layers. Required if env contains one.
	Runtime runtimefacade.Runtime
	// WormholeClientPath is bind-mounted onto Kind==Wormhole directives.
	WormholeClientPath string
	// LdconfigPath is the host ldconfig binary invoked by the
	// use_ldconfig post-step. Defaults to "ldconfig" on PATH.
	LdconfigPath string
	Logger       Logger
}

func (o Options) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return nopLogger{}
}

// Assembler runs the algorithm against one environment.
type Assembler struct {
	opts  Options
	tree  *pathstate.Tree
	state State
}

// New creates an assembler in state Configured with a fresh path-state
// tree.
func New(opts Options) *Assembler {
	return &Assembler{opts: opts, tree: pathstate.New(), state: Configured}
}

// Tree returns the path-state tree accumulated so far.
func (a *Assembler) Tree() *pathstate.Tree { return a.tree }

// State returns the current assembly state.
func (a *Assembler) State() State { return a.state }

// Assemble runs the algorithm over env's layers in order.
// On success env.RootDirectory is set if the bottom layer was an Image, and
// the assembler's state becomes Ready. On any mount failure the state
// becomes Failed and assembly stops; env is returned with whatever
// RootDirectory had already been determined. Partial mounts already
// applied to the namespace are not unwound — the caller
// owns the namespace and is expected to discard it.
func (a *Assembler) Assemble(ctx context.Context, env layer.Environment) (layer.Environment, error) {
	if a.state != Configured {
		return env, fmt.Errorf("assemble: environment %q is not in state Configured (state=%s)", env.Name, a.state)
	}
	a.state = Assembling

	for i, l := range env.Layers {
		if l.Type == layer.TypeImage && i != 0 {
			a.state = Failed
			return env, fmt.Errorf("assemble: environment %q: Image layer at index %d, must be index 0", env.Name, i)
		}

		sourcePrefix, destPrefix, err := a.resolveSourceRoot(ctx, &env, l)
		if err != nil {
			a.state = Failed
			return env, fmt.Errorf("assemble: environment %q layer %d: %w", env.Name, i, err)
		}

		for _, directive := range l.Paths {
			if err := a.applyDirective(sourcePrefix, destPrefix, directive); err != nil {
				a.state = Failed
				return env, fmt.Errorf("assemble: environment %q layer %d directive %s %s: %w", env.Name, i, directive.Kind, directive.Path, err)
			}
		}

		if l.UseLdconfig {
			if err := a.applyLdconfig(sourcePrefix, destPrefix); err != nil {
				a.state = Failed
				return env, fmt.Errorf("assemble: environment %q layer %d: use_ldconfig: %w", env.Name, i, err)
			}
		}
	}

	a.state = Ready
	return env, nil
}

// resolveSourceRoot implements steps 1-2: resolve the
// layer's source root and establish the scaffold (source/destination
// prefixes path directives are evaluated against).
func (a *Assembler) resolveSourceRoot(ctx context.Context, env *layer.Environment, l layer.Layer) (sourcePrefix, destPrefix string, err error) {
	switch l.Type {
	case layer.TypeLayer:
		sourcePrefix = l.Directory
		if env.RootDirectory != "" {
			destPrefix = env.RootDirectory
		} else {
			destPrefix = "/"
		}
		return sourcePrefix, destPrefix, nil

	case layer.TypeImage:
		if a.opts.Runtime == nil {
			return "", "", fmt.Errorf("Image layer %q requires a configured container runtime", l.Image)
		}
		localName := runtimefacade.LocalName(l.Image)

		exists, err := a.opts.Runtime.ContainerExists(ctx, localName)
		if err != nil {
			return "", "", err
		}
		if !exists {
			if _, err := a.opts.Runtime.ContainerStart(ctx, l.Image, localName); err != nil {
				return "", "", err
			}
		}
		root, err := a.opts.Runtime.ContainerMount(ctx, localName)
		if err != nil {
			return "", "", err
		}

		env.RootDirectory = root
		return root, root, nil

	default:
		return "", "", fmt.Errorf("layer type %s must not appear in a flattened environment", l.Type)
	}
}

// applyDirective implements step 3, dispatching by Kind.
func (a *Assembler) applyDirective(sourcePrefix, destPrefix string, d layer.PathDirective) error {
	matches, err := filepath.Glob(filepath.Join(sourcePrefix, d.Path))
	if err != nil {
		return fmt.Errorf("glob %s: %w", d.Path, err)
	}
	if len(matches) == 0 && !hasMeta(d.Path) {
		matches = []string{filepath.Join(sourcePrefix, d.Path)}
	}

	for _, src := range matches {
		rel, err := filepath.Rel(sourcePrefix, src)
		if err != nil {
			return err
		}
		dst := filepath.Join(destPrefix, rel)
		viewPath := filepath.Join("/", rel)

		if err := a.applyOne(d.Kind, src, dst, viewPath, d); err != nil {
			return err
		}
	}
	return nil
}

func hasMeta(path string) bool {
	for _, r := range path {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func (a *Assembler) applyOne(kind layer.Kind, src, dst, viewPath string, d layer.PathDirective) error {
	switch kind {
	case layer.Bind:
		if err := fsops.MountBind(src, dst, true); err != nil {
			return a.recoverable(err)
		}
		a.tree.Set(viewPath, pathstate.BindMounted, nil)
		return nil

	case layer.BindChildren:
		return a.applyBindChildren(src, dst, viewPath)

	case layer.OverlayChildren:
		return a.applyOverlayChildren(src, dst, viewPath)

	case layer.Overlay:
		// lower = "dst:src": the existing destination view stays on top,
		// the layer's content underneath.
		if err := fsops.MountOverlay(fsops.JoinLower(dst, src), "", "", dst); err != nil {
			return a.recoverable(err)
		}
		a.tree.Set(viewPath, pathstate.OverlayMounted, pathstate.OverlayPayload{})
		return nil

	case layer.Mount:
		if err := fsops.MountVirtualFS(dst, d.FSType, d.Options); err != nil {
			return a.recoverable(err)
		}
		a.tree.Set(viewPath, pathstate.SystemMount, pathstate.SystemMountPayload{FSType: d.FSType, Device: d.Device})
		return nil

	case layer.Wormhole:
		if a.opts.WormholeClientPath == "" {
			return fmt.Errorf("Wormhole directive at %s requires a configured client path", viewPath)
		}
		if err := fsops.MountBind(a.opts.WormholeClientPath, dst, false); err != nil {
			return a.recoverable(err)
		}
		a.tree.Set(viewPath, pathstate.BindMounted, nil)
		return nil

	case layer.Hide:
		a.opts.logger().Printf("assemble: Hide %s is unimplemented, skipping", viewPath)
		return nil

	default:
		return fmt.Errorf("unknown directive kind %s", kind)
	}
}

// applyBindChildren implements BindChildren: a throw-away
// overlay shields the real destination from premature mutation while each
// non-dot child of src is bound in turn.
func (a *Assembler) applyBindChildren(src, dst, viewPath string) error {
	scratch, cleanup, err := fsops.TempDirOnTmpfs("", "wormhole-bindchildren-*")
	if err != nil {
		return err
	}
	defer cleanup()

	upper := filepath.Join(scratch, "upper")
	work := filepath.Join(scratch, "work")
	for _, d := range []string{upper, work} {
		if err := fsops.Makedirs(d, 0o755); err != nil {
			return err
		}
	}

	if err := fsops.MountOverlay(dst, upper, work, dst); err != nil {
		return a.recoverable(err)
	}
	a.tree.Set(viewPath, pathstate.OverlayMounted, pathstate.OverlayPayload{Upperdir: upper})

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}

		childSrc := filepath.Join(src, name)
		childDst := filepath.Join(dst, name)
		childView := filepath.Join(viewPath, name)

		if err := fsops.MountBind(childSrc, childDst, true); err != nil {
			if rerr := a.recoverable(err); rerr != nil {
				return rerr
			}
			continue
		}
		a.tree.Set(childView, pathstate.BindMounted, nil)
	}
	return nil
}

// applyOverlayChildren implements OverlayChildren: a throw-away overlay
// shields the real destination from premature mutation while each
// non-dot child of src is overlaid in turn, the same shape as
// applyBindChildren but mounting each child as an overlay instead of a
// bind mount.
func (a *Assembler) applyOverlayChildren(src, dst, viewPath string) error {
	scratch, cleanup, err := fsops.TempDirOnTmpfs("", "wormhole-overlaychildren-*")
	if err != nil {
		return err
	}
	defer cleanup()

	upper := filepath.Join(scratch, "upper")
	work := filepath.Join(scratch, "work")
	for _, d := range []string{upper, work} {
		if err := fsops.Makedirs(d, 0o755); err != nil {
			return err
		}
	}

	if err := fsops.MountOverlay(dst, upper, work, dst); err != nil {
		return a.recoverable(err)
	}
	a.tree.Set(viewPath, pathstate.OverlayMounted, pathstate.OverlayPayload{Upperdir: upper})

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}

		childSrc := filepath.Join(src, name)
		childDst := filepath.Join(dst, name)
		childView := filepath.Join(viewPath, name)

		if err := fsops.MountOverlay(fsops.JoinLower(childDst, childSrc), "", "", childDst); err != nil {
			if rerr := a.recoverable(err); rerr != nil {
				return rerr
			}
			continue
		}
		a.tree.Set(childView, pathstate.OverlayMounted, pathstate.OverlayPayload{})
	}
	return nil
}

// applyLdconfig implements step 4
func (a *Assembler) applyLdconfig(sourcePrefix, destPrefix string) error {
	etcDir := filepath.Join(sourcePrefix, "etc")
	if err := fsops.Makedirs(etcDir, 0o755); err != nil {
		return err
	}

	layerCache := filepath.Join(etcDir, "ld.so.cache")
	hostCache := "/etc/ld.so.cache"

	rel, err := fsops.InodeCompare(layerCache, hostCache)
	if err != nil {
		return err
	}
	if rel&fsops.FirstNewer == 0 {
		ldconfig := a.opts.LdconfigPath
		if ldconfig == "" {
			ldconfig = "ldconfig"
		}
		cmd := exec.Command(ldconfig, "-X", "-r", sourcePrefix)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ldconfig: %w: %s", err, out)
		}
	}

	dst := filepath.Join(destPrefix, "etc", "ld.so.cache")
	if err := fsops.MountBind(layerCache, dst, false); err != nil {
		return a.recoverable(err)
	}
	a.tree.Set("/etc/ld.so.cache", pathstate.BindMounted, nil)
	return nil
}

// recoverable implements recoverable-condition carve-out:
// a permission error is logged and the directive skipped rather than
// failing the whole assembly; anything else still aborts.
func (a *Assembler) recoverable(err error) error {
	if os.IsPermission(err) {
		a.opts.logger().Printf("assemble: skipping directive: %v", err)
		return nil
	}
	return err
}
