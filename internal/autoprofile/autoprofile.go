// Package autoprofile implements a profile-keyword analyser: given a
// captured directory tree and a profile (a list of keyword/argument
// lines), it decides which paths become layer content and emits the
// resulting directive list.
//
// The line-oriented "keyword [arg], # and blank lines ignored" profile
// grammar and its sequential, accumulate-as-you-go execution follow the
// same readLines-then-walk-and-accumulate shape used for Portage profile
// parsing, retargeted from make.defaults/package.use keywords to a
// mount-directive keyword table.
package autoprofile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/pathstate"
)

// Line is one parsed profile line.
type Line struct {
	Keyword string
	Arg     string
}

// LoadLines reads a profile from an absolute path, or resolves nameOrPath
// against builtins when it is not absolute (: "either a
// built-in tag or an absolute path").
func LoadLines(nameOrPath string, builtins map[string]string) ([]Line, error) {
	var r *strings.Reader
	if filepath.IsAbs(nameOrPath) {
		content, err := os.ReadFile(nameOrPath)
		if err != nil {
			return nil, fmt.Errorf("autoprofile: reading profile %s: %w", nameOrPath, err)
		}
		r = strings.NewReader(string(content))
	} else {
		content, ok := builtins[nameOrPath]
		if !ok {
			return nil, fmt.Errorf("autoprofile: unknown built-in profile %q", nameOrPath)
		}
		r = strings.NewReader(content)
	}

	var lines []Line
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		fields := strings.SplitN(raw, " ", 2)
		l := Line{Keyword: fields[0]}
		if len(fields) == 2 {
			l.Arg = strings.TrimSpace(fields[1])
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// WrapperProfile is one check-binaries-generated wrapper entry.
type WrapperProfile struct {
	Wrapper string
	Command string
}

// Logger receives a trace line per skipped or stray-file finding.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Options configures one analysis run.
type Options struct {
	// Root is the captured directory tree (typically digger's tree/).
	Root string
	// WrapperDir, if set, enables check-binaries.
	WrapperDir string
	Logger     Logger
}

func (o Options) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return nopLogger{}
}

// Result is the complete analysis output.
type Result struct {
	EnvironmentType layer.Type
	Directives      []layer.PathDirective
	UseLdconfig     bool
	Wrappers        []WrapperProfile
	StrayCount      int
}

type analyser struct {
	opts        Options
	tree        *pathstate.Tree
	ignoreStray bool
	result      Result
}

// Analyse runs the keyword table against lines, then
// (unless "ignore strays" was set) performs the stray-file pass. A non-zero
// final stray count is returned as an error.
func Analyse(opts Options, lines []Line) (Result, error) {
	tree, err := buildTree(opts.Root)
	if err != nil {
		return Result{}, err
	}

	a := &analyser{
		opts:   opts,
		tree:   tree,
		result: Result{EnvironmentType: layer.TypeLayer},
	}

	for _, l := range lines {
		if err := a.apply(l); err != nil {
			return Result{}, fmt.Errorf("autoprofile: %s %s: %w", l.Keyword, l.Arg, err)
		}
	}

	if !a.ignoreStray {
		strays := a.strayPass()
		a.result.StrayCount = strays
		if strays > 0 {
			return a.result, fmt.Errorf("autoprofile: %d stray file(s) left unaccounted for", strays)
		}
	}

	sort.Slice(a.result.Directives, func(i, j int) bool {
		return a.result.Directives[i].Path < a.result.Directives[j].Path
	})

	return a.result, nil
}

// buildTree walks root and seeds the path-state tree with one Unchanged
// entry per filesystem entry, relative to root.
func buildTree(root string) (*pathstate.Tree, error) {
	tree := pathstate.New()
	tree.Set("/", pathstate.Unchanged, nil)
	tree.SetAux(tree.Root(), "isDir", true)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel := strings.TrimPrefix(path, root)
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		h := tree.Set(rel, pathstate.Unchanged, nil)
		tree.SetAux(h, "isDir", d.IsDir())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("autoprofile: walking %s: %w", root, err)
	}
	return tree, nil
}

func (a *analyser) hostPath(p string) string {
	return filepath.Join(a.opts.Root, p)
}

func (a *analyser) exists(p string) bool {
	_, err := os.Lstat(a.hostPath(p))
	return err == nil
}

func (a *analyser) isEmptyDir(p string) bool {
	entries, err := os.ReadDir(a.hostPath(p))
	if err != nil {
		return true
	}
	return len(entries) == 0
}

func (a *analyser) apply(l Line) error {
	switch l.Keyword {
	case "environment-type":
		switch l.Arg {
		case "layer":
			a.result.EnvironmentType = layer.TypeLayer
		case "image":
			a.result.EnvironmentType = layer.TypeImage
		default:
			return fmt.Errorf("unknown environment-type %q", l.Arg)
		}

	case "ignore":
		if strings.TrimSpace(l.Arg) == "strays" {
			a.ignoreStray = true
			return nil
		}
		if a.exists(l.Arg) {
			a.tree.Set(l.Arg, pathstate.Ignored, nil)
		}

	case "optional-directory":
		// no-op marker.

	case "ignore-if-empty":
		h, _ := a.tree.Lookup(l.Arg, true)
		a.tree.SetAux(h, "ignoreIfEmpty", true)

	case "ignore-empty-subdirs":
		h, _ := a.tree.Lookup(l.Arg, true)
		a.tree.SetAux(h, "ignoreEmptySubdirs", true)

	case "overlay":
		if !a.exists(l.Arg) {
			return fmt.Errorf("path %s does not exist", l.Arg)
		}
		a.result.Directives = append(a.result.Directives, layer.PathDirective{Kind: layer.Overlay, Path: l.Arg})
		a.tree.Set(l.Arg, pathstate.OverlayMounted, nil)

	case "bind":
		if !a.exists(l.Arg) {
			return fmt.Errorf("path %s does not exist", l.Arg)
		}
		a.result.Directives = append(a.result.Directives, layer.PathDirective{Kind: layer.Bind, Path: l.Arg})
		a.tree.Set(l.Arg, pathstate.BindMounted, nil)

	case "overlay-unless-empty":
		if a.isEmptyDir(l.Arg) {
			a.tree.Set(l.Arg, pathstate.Ignored, nil)
		} else {
			a.result.Directives = append(a.result.Directives, layer.PathDirective{Kind: layer.Overlay, Path: l.Arg})
			a.tree.Set(l.Arg, pathstate.OverlayMounted, nil)
		}

	case "bind-unless-empty":
		if a.isEmptyDir(l.Arg) {
			a.tree.Set(l.Arg, pathstate.Ignored, nil)
		} else {
			a.result.Directives = append(a.result.Directives, layer.PathDirective{Kind: layer.Bind, Path: l.Arg})
			a.tree.Set(l.Arg, pathstate.BindMounted, nil)
		}

	case "must-be-empty":
		if !a.isEmptyDir(l.Arg) {
			return fmt.Errorf("%s must be empty but is not", l.Arg)
		}

	case "check-ldconfig":
		p := l.Arg
		if p == "" {
			p = "/etc/ld.so.cache"
		}
		if a.exists(p) {
			a.result.UseLdconfig = true
			a.tree.Set(p, pathstate.Ignored, nil)
		}

	case "mount-tmpfs":
		a.result.Directives = append(a.result.Directives, layer.PathDirective{Kind: layer.Mount, Path: l.Arg, FSType: "tmpfs"})
		a.tree.Set(l.Arg, pathstate.SystemMount, pathstate.SystemMountPayload{FSType: "tmpfs"})

	case "check-binaries":
		return a.checkBinaries(l.Arg)

	default:
		return fmt.Errorf("unknown profile keyword %q", l.Keyword)
	}
	return nil
}

func (a *analyser) checkBinaries(dir string) error {
	if a.opts.WrapperDir == "" {
		a.opts.logger().Printf("autoprofile: check-binaries %s: no wrapper directory configured, skipping", dir)
		return nil
	}

	entries, err := os.ReadDir(a.hostPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		a.result.Wrappers = append(a.result.Wrappers, WrapperProfile{
			Wrapper: filepath.Join(a.opts.WrapperDir, entry.Name()),
			Command: filepath.Join(dir, entry.Name()),
		})
	}
	return nil
}

// strayPass implements stray-file pass: depth-first,
// percolating counts upward, with the const-100 log cap.
func (a *analyser) strayPass() int {
	const maxLogged = 100
	logged := 0

	var walk func(h pathstate.Handle) int
	walk = func(h pathstate.Handle) int {
		// A node already mounted/ignored by an earlier action covers its
		// whole subtree; only entries still Unchanged are examined here.
		if a.tree.Disposition(h) != pathstate.Unchanged {
			return 0
		}

		children := a.tree.Children(h)
		if len(children) == 0 {
			isDir, _ := a.tree.Aux(h, "isDir")
			if isDir == true {
				// An empty directory has no stray descendants of its own;
				// it only matters if something under it is unaccounted
				// for, which there isn't.
				return 0
			}
			if logged < maxLogged {
				a.opts.logger().Printf("autoprofile: stray file %s", a.tree.Path(h))
				logged++
			}
			return 1
		}

		strays := 0
		for _, c := range children {
			strays += walk(c)
		}

		if strays != 0 {
			return strays
		}

		ignoreIfEmpty, _ := a.tree.Aux(h, "ignoreIfEmpty")
		ignoreEmptySubdirs, _ := a.tree.Aux(h, "ignoreEmptySubdirs")
		if ignoreIfEmpty == true || ignoreEmptySubdirs == true {
			a.tree.Set(a.tree.Path(h), pathstate.Ignored, nil)
		}
		return 0
	}

	return walk(a.tree.Root())
}
