//go:build linux

// Package digger implements the capture pipeline: the
// inverse of assembly. A command runs inside a freshly assembled namespace
// where every host mount is re-overlaid with a dedicated upperdir; on exit,
// the union of non-empty upperdirs becomes a new layer.
//
// The "run a command under a disposable namespace, diff what changed"
// shape (tmpfs staging dirs, overlay mount sequencing, pivot-root-adjacent
// bookkeeping) and its harvesting idiom (fileutil.RemoveAllWithChmod-based
// teardown of scratch directories) follow the same approach used
// elsewhere in this codebase for disposable build namespaces.
package digger

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/fileutil"
	"github.com/wormholefs/wormhole/internal/fsops"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/mounttable"
	"github.com/wormholefs/wormhole/internal/nsops"
	"github.com/wormholefs/wormhole/internal/pathstate"
)

// builtinVirtualFSTypes is the built-in list step 8: mounts
// whose host view should simply be bound into the capture, not overlaid.
var builtinVirtualFSTypes = map[string]bool{
	"proc": true, "sysfs": true, "tmpfs": true, "devpts": true,
	"devtmpfs": true, "cgroup": true, "cgroup2": true, "bpf": true,
	"mqueue": true, "debugfs": true, "hugetlbfs": true, "securityfs": true,
	"pstore": true, "efivarfs": true,
}

// unusableLowerFSTypes is step 8's "overlayfs cannot use this
// as a lower" list.
var unusableLowerFSTypes = map[string]bool{
	"fat": true, "vfat": true, "nfs": true,
}

// Logger receives trace lines for skipped conditions.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// ConfigWriter persists a harvested environment as a config file. The
// concrete implementation is supplied by the caller (cmd/wormhole) so
// digger does not need to depend on the grammar.
type ConfigWriter func(path string, env layer.Environment) error

// Options configures one digger session.
type Options struct {
	OverlayRoot string
	Clean       bool
	Privileged  bool

	// BaseEnvironment, if non-nil, is assembled inside the capture before
	// the command runs. It must already be flattened; digger does not
	// resolve references itself.
	BaseEnvironment *layer.Environment
	AssembleOptions assemble.Options

	// ExtraVirtualFSTypes supplements builtinVirtualFSTypes.
	ExtraVirtualFSTypes []string

	BuildDir    string
	BuildScript string

	Command []string

	WriteConfig ConfigWriter
	Logger      Logger
}

func (o Options) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return nopLogger{}
}

// Session is one in-progress or completed capture.
type Session struct {
	opts Options
	tree *pathstate.Tree

	lowerDir string
	treeDir  string
	workDir  string
	rootDir  string

	providesPath string
	providesFile *os.File

	snapshot *pathstate.Tree
}

// New validates opts and prepares a Session. It does not touch the
// filesystem; call Setup to do that.
func New(opts Options) (*Session, error) {
	if opts.OverlayRoot == "" {
		return nil, fmt.Errorf("digger: OverlayRoot is required")
	}
	return &Session{opts: opts, tree: pathstate.New()}, nil
}

// Setup implements numbered setup steps 1-10.
func (s *Session) Setup(ctx context.Context) error {
	// Step 1: make-dirs the overlay root.
	if _, err := os.Stat(s.opts.OverlayRoot); err == nil {
		if !s.opts.Clean {
			return fmt.Errorf("digger: overlay root %s already exists (use Clean to remove it)", s.opts.OverlayRoot)
		}
		if err := fileutil.RemoveAllWithChmod(s.opts.OverlayRoot); err != nil {
			return fmt.Errorf("digger: removing existing overlay root: %w", err)
		}
	}
	if err := fsops.Makedirs(s.opts.OverlayRoot, 0o755); err != nil {
		return err
	}

	// Step 2: namespace + make "/" private.
	if s.opts.Privileged {
		if err := nsops.CreateMountNamespace(); err != nil {
			return err
		}
	} else {
		if _, err := nsops.CreateUserNamespace(); err != nil {
			return err
		}
	}
	if err := fsops.MakeFSPrivate("/"); err != nil {
		return err
	}

	// Step 3: pick the base root: the base environment's RootDirectory if
	// it has one, otherwise the host "/". An Image layer of the base
	// environment is not resolved here and does not change the base root.
	baseRoot := "/"
	if s.opts.BaseEnvironment != nil && s.opts.BaseEnvironment.RootDirectory != "" {
		baseRoot = s.opts.BaseEnvironment.RootDirectory
	}

	// Step 4: working subdirectories.
	s.lowerDir = filepath.Join(s.opts.OverlayRoot, "lower")
	s.treeDir = filepath.Join(s.opts.OverlayRoot, "tree")
	s.workDir = filepath.Join(s.opts.OverlayRoot, "work")
	s.rootDir = filepath.Join(s.opts.OverlayRoot, "root")
	for _, d := range []string{s.lowerDir, s.treeDir, s.workDir, s.rootDir} {
		if err := fsops.Makedirs(d, 0o755); err != nil {
			return err
		}
	}

	// Step 5: bind-mount the base at lower.
	if err := fsops.MountBind(baseRoot, s.lowerDir, true); err != nil {
		return err
	}

	// Step 6: overlay-mount lower->root, then lazy-unmount lower.
	if err := fsops.MountOverlay(s.lowerDir, s.treeDir, s.workDir, s.rootDir); err != nil {
		return err
	}
	if err := fsops.LazyUnmount(s.lowerDir); err != nil {
		return err
	}

	// Step 7: assemble the base environment's directives into root.
	if s.opts.BaseEnvironment != nil {
		assembler := assemble.New(s.opts.AssembleOptions)
		env := *s.opts.BaseEnvironment
		env.RootDirectory = s.rootDir
		if _, err := assembler.Assemble(ctx, env); err != nil {
			return fmt.Errorf("digger: assembling base environment: %w", err)
		}
		s.tree = assembler.Tree()
	}

	// Step 8: overlay/bind the live host mounts.
	snap, err := mounttable.Snapshot(mounttable.DefaultPath, "")
	if err != nil {
		return fmt.Errorf("digger: snapshotting mount table: %w", err)
	}
	s.snapshot = snap
	if err := s.captureHostMounts(snap); err != nil {
		return err
	}

	// Step 9: optional build dir/script.
	if s.opts.BuildDir != "" {
		target := filepath.Join(s.rootDir, "build")
		if err := fsops.MountBind(s.opts.BuildDir, target, true); err != nil {
			return err
		}
		s.tree.Set("/build", pathstate.BindMounted, nil)
	}
	if s.opts.BuildScript != "" {
		target := filepath.Join(s.rootDir, "build.sh")
		if err := fsops.MountBind(s.opts.BuildScript, target, false); err != nil {
			return err
		}
		s.tree.Set("/build.sh", pathstate.BindMounted, nil)
	}

	// Step 10: /provides capture file.
	providesHost, err := os.CreateTemp("", "wormhole-provides-*")
	if err != nil {
		return err
	}
	s.providesFile = providesHost
	s.providesPath = filepath.Join(s.rootDir, "provides")
	if err := fsops.CreateEmpty(s.providesPath); err != nil {
		return err
	}
	if err := fsops.MountBind(providesHost.Name(), s.providesPath, false); err != nil {
		return err
	}
	s.tree.Set("/provides", pathstate.BindMounted, nil)

	return nil
}

// captureHostMounts implements step 8.
func (s *Session) captureHostMounts(snap *pathstate.Tree) error {
	extra := map[string]bool{}
	for _, t := range s.opts.ExtraVirtualFSTypes {
		extra[t] = true
	}

	var mountErr error
	index := 0
	snap.Walk(func(e pathstate.Entry) (skipChildren bool) {
		if mountErr != nil {
			return true
		}
		if e.Disposition != pathstate.SystemMount {
			return false
		}

		payload := snap.SystemMountPayload(e.Handle)
		fsType := ""
		if payload != nil {
			fsType = payload.FSType
		}

		target := filepath.Join(s.rootDir, e.Path)

		switch {
		case builtinVirtualFSTypes[fsType] || extra[fsType]:
			if err := fsops.MountBind(e.Path, target, false); err != nil {
				mountErr = err
				return true
			}
			s.tree.Set(e.Path, pathstate.BindMounted, nil)
			return true // skip descending: the bind already carries children

		case unusableLowerFSTypes[fsType]:
			return true // ignore, and skip descending

		case isAncestorOrSelf(e.Path, s.opts.OverlayRoot):
			// Ignore this mount to avoid recursively overlaying the overlay
			// root itself; other mounts below it are still visited.
			return e.Path == s.opts.OverlayRoot

		default:
			idx := index
			index++
			subtreeDir := filepath.Join(s.opts.OverlayRoot, fmt.Sprintf("subtree.%d", idx))
			upper := filepath.Join(subtreeDir, "tree")
			work := filepath.Join(subtreeDir, "work")
			for _, d := range []string{upper, work} {
				if err := fsops.Makedirs(d, 0o755); err != nil {
					mountErr = err
					return true
				}
			}
			if err := fsops.MountOverlay(target, upper, work, target); err != nil {
				mountErr = err
				return true
			}
			s.tree.Set(e.Path, pathstate.OverlayMounted, pathstate.OverlayPayload{Upperdir: upper})
			return false
		}
	})
	return mountErr
}

func isAncestorOrSelf(candidate, of string) bool {
	if candidate == of {
		return true
	}
	return strings.HasPrefix(of, strings.TrimSuffix(candidate, "/")+"/")
}

// Run execs the command inside the assembled view and waits for it,
// implementing Run step. A non-zero exit or signal fails
// the whole session.
func (s *Session) Run(ctx context.Context) error {
	argv := s.opts.Command
	if len(argv) == 0 {
		argv = defaultShellArgv()
	}
	if s.opts.BuildScript != "" {
		argv = append([]string{"/build.sh"}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// The command is chrooted into the assembled view; Dir is resolved
	// inside it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: s.rootDir}
	cmd.Dir = "/"
	if s.opts.BuildDir != "" {
		cmd.Dir = "/build"
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("digger: command failed: %w", err)
	}
	return nil
}

func defaultShellArgv() []string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return []string{shell}
	}
	for _, candidate := range []string{"/bin/bash", "/bin/sh"} {
		if _, err := os.Stat(candidate); err == nil {
			return []string{candidate}
		}
	}
	return []string{"/bin/sh"}
}

// Harvest implements harvest steps 1-5, returning the new
// layer's environment (a single Layer pointing at the tree directory).
func (s *Session) Harvest(name string) (layer.Environment, error) {
	// Step 1: lazy-unmount the environment root.
	if err := fsops.LazyUnmount(s.rootDir); err != nil {
		return layer.Environment{}, err
	}

	// Step 2: rename non-empty overlay upperdirs into tree/<mount point>.
	var harvestErr error
	s.tree.Walk(func(e pathstate.Entry) (skipChildren bool) {
		if harvestErr != nil {
			return true
		}
		if e.Disposition != pathstate.OverlayMounted {
			return false
		}
		payload := s.tree.OverlayPayloadAt(e.Handle)
		if payload == nil || payload.Upperdir == "" {
			return false
		}

		empty, err := isEmptyDir(payload.Upperdir)
		if err != nil {
			harvestErr = err
			return true
		}
		if empty {
			return false
		}

		dest := filepath.Join(s.treeDir, e.Path)
		if err := fsops.Makedirs(filepath.Dir(dest), 0o755); err != nil {
			harvestErr = err
			return true
		}
		if err := os.Rename(payload.Upperdir, dest); err != nil {
			harvestErr = err
			return true
		}
		return false
	})
	if harvestErr != nil {
		return layer.Environment{}, harvestErr
	}

	// Step 3: clean up scratch artifacts.
	for _, p := range []string{
		s.workDir,
		s.lowerDir,
		filepath.Join(s.treeDir, "build.sh"),
		filepath.Join(s.treeDir, "build"),
		filepath.Join(s.treeDir, "provides"),
		s.rootDir,
	} {
		if err := fileutil.RemoveAllWithChmod(p); err != nil {
			s.opts.logger().Printf("digger: cleanup %s: %v", p, err)
		}
	}

	// Step 4: read the retained provides fd.
	var provides []string
	if s.providesFile != nil {
		if _, err := s.providesFile.Seek(0, 0); err == nil {
			sc := bufio.NewScanner(s.providesFile)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line != "" {
					provides = append(provides, line)
				}
			}
		}
		s.providesFile.Close()
	}

	env := layer.Environment{
		Name:     name,
		Layers:   []layer.Layer{{Type: layer.TypeLayer, Directory: s.treeDir}},
		Provides: provides,
	}

	// Step 5: emit .digger.conf.
	if s.opts.WriteConfig != nil {
		confPath := filepath.Join(s.opts.OverlayRoot, ".digger.conf")
		if err := s.opts.WriteConfig(confPath, env); err != nil {
			return env, fmt.Errorf("digger: writing %s: %w", confPath, err)
		}
	}

	return env, nil
}

func isEmptyDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
