//go:build linux

// Package fsops wraps the filesystem syscalls the rest of wormhole builds
// on: bind/overlay/tmpfs mounts, lazy unmount, private propagation,
// directory creation, a file-tree walk, and a tmpfs-backed scratch
// directory helper. None of these functions panic; all report failure
// through a returned error.
//
// The bind/overlay/tmpfs mount sequences and the private-propagation,
// pivot_root-companion calls follow the same shape used elsewhere in this
// codebase for container-namespace setup.
package fsops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"golang.org/x/sys/unix"
)

// MountBind bind-mounts src onto dst, creating dst (and its parents) first
// if missing. When recursive is true, submounts under src are carried
// along (MS_REC).
func MountBind(src, dst string, recursive bool) error {
	if err := ensureTarget(src, dst); err != nil {
		return err
	}

	flags := uintptr(unix.MS_BIND)
	if recursive {
		flags |= unix.MS_REC
	}

	if err := unix.Mount(src, dst, "", flags, ""); err != nil {
		return mountErrorf(fmt.Sprintf("bind src=%s dst=%s recursive=%v", src, dst, recursive), err)
	}
	return nil
}

// ensureTarget creates dst's parent directories, then dst itself as an
// empty file or directory matching src's type, if dst does not yet exist.
func ensureTarget(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fsops: makedirs %s: %w", filepath.Dir(dst), err)
	}

	if _, err := os.Lstat(dst); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("fsops: stat %s: %w", dst, err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("fsops: stat mount source %s: %w", src, err)
	}

	if srcInfo.IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	return CreateEmpty(dst)
}

// MountOverlay mounts an overlay filesystem at target. lower may be a
// colon-separated list of lower directories, highest-priority first per
// overlayfs convention. When upper and work are both
// non-empty the overlay is read-write; otherwise it is read-only.
func MountOverlay(lower string, upper, work, target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("fsops: makedirs %s: %w", target, err)
	}

	options := "lowerdir=" + lower
	if upper != "" && work != "" {
		options = fmt.Sprintf("upperdir=%s,workdir=%s,%s", upper, work, options)
	}

	if err := unix.Mount("overlay", target, "overlay", 0, options); err != nil {
		return mountErrorf(fmt.Sprintf("overlay target=%s options=%s", target, shellescape.Quote(options)), err)
	}
	return nil
}

// MountTmpfs mounts an empty tmpfs at target.
func MountTmpfs(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("fsops: makedirs %s: %w", target, err)
	}
	if err := unix.Mount("tmpfs", target, "tmpfs", 0, ""); err != nil {
		return mountErrorf(fmt.Sprintf("tmpfs target=%s", target), err)
	}
	return nil
}

// MountVirtualFS mounts a fresh instance of fstype (e.g. "proc", "sysfs",
// "devpts") at target with the given comma-separated options.
func MountVirtualFS(target, fstype, options string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("fsops: makedirs %s: %w", target, err)
	}
	if err := unix.Mount(fstype, target, fstype, 0, options); err != nil {
		return mountErrorf(fmt.Sprintf("mount target=%s fstype=%s options=%s", target, fstype, shellescape.Quote(options)), err)
	}
	return nil
}

// LazyUnmount detaches the mount at path (MNT_DETACH): it disappears from
// the namespace immediately but is not torn down until its last reference
// goes away.
func LazyUnmount(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("fsops: lazy umount %s: %w", path, err)
	}
	return nil
}

// MakeFSPrivate changes the mount propagation of path (recursively) to
// private, so that subsequent mounts under it do not leak to the host
// mount namespace.
func MakeFSPrivate(path string) error {
	if err := unix.Mount("", path, "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("fsops: make-private %s: %w", path, err)
	}
	return nil
}

// Makedirs creates path and any missing parents with the given mode
// (subject to umask, as with os.MkdirAll).
func Makedirs(path string, mode os.FileMode) error {
	return os.MkdirAll(path, mode)
}

// CreateEmpty creates an empty regular file at path (and its parents).
func CreateEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

// WalkAction is the disposition returned by a FtwFunc.
type WalkAction int

const (
	// Continue descends normally.
	Continue WalkAction = iota
	// Skip does not descend into this entry's children (directories only).
	Skip
	// Abort stops the walk immediately; Ftw returns the error passed in.
	Abort
)

// FtwFunc is called once per entry in pre-order. Filesystem-boundary
// skipping is enforced by Ftw itself when requested, not by the callback.
type FtwFunc func(path string, d fs.DirEntry) (WalkAction, error)

// Ftw performs a depth-first walk of root, invoking fn for every entry
// (including root itself) in pre-order. If oneFilesystem is true, Ftw does
// not descend into mount points nested under root (detected by comparing
// device numbers via os.Stat), mirroring the single-filesystem constraint
//
func Ftw(root string, oneFilesystem bool, fn FtwFunc) error {
	var rootDev uint64
	if oneFilesystem {
		info, err := os.Lstat(root)
		if err != nil {
			return err
		}
		rootDev = deviceOf(info)
	}

	var walk func(path string, d fs.DirEntry) error
	walk = func(path string, d fs.DirEntry) error {
		action, err := fn(path, d)
		if err != nil {
			return err
		}
		switch action {
		case Abort:
			return errAbort
		case Skip:
			return nil
		}

		if d != nil && !d.IsDir() {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			childPath := filepath.Join(path, entry.Name())
			if oneFilesystem && entry.IsDir() {
				info, err := os.Lstat(childPath)
				if err != nil {
					return err
				}
				if deviceOf(info) != rootDev {
					continue
				}
			}
			if err := walk(childPath, entry); err != nil {
				return err
			}
		}
		return nil
	}

	rootInfo, err := os.Lstat(root)
	if err != nil {
		return err
	}
	err = walk(root, fs.FileInfoToDirEntry(rootInfo))
	if err == errAbort {
		return nil
	}
	return err
}

var errAbort = fmt.Errorf("fsops: walk aborted")

func deviceOf(info fs.FileInfo) uint64 {
	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		return uint64(stat.Dev)
	}
	return 0
}

// InodeRelation is a bit-mask describing how two inodes relate, without
// opening either file.
type InodeRelation int

const (
	// SameType indicates both paths have the same file type.
	SameType InodeRelation = 1 << iota
	// SameSize indicates both paths report the same size.
	SameSize
	// FirstNewer indicates p1's mtime is strictly after p2's.
	FirstNewer
	// SecondNewer indicates p2's mtime is strictly after p1's.
	SecondNewer
)

// InodeCompare stats p1 and p2 and returns a relation mask. Missing files
// compare as having no relation bits set except what can be determined
// (e.g. neither SameType nor SameSize if either is missing).
func InodeCompare(p1, p2 string) (InodeRelation, error) {
	i1, err1 := os.Stat(p1)
	i2, err2 := os.Stat(p2)
	if err1 != nil || err2 != nil {
		return 0, nil
	}

	var rel InodeRelation
	if i1.Mode().Type() == i2.Mode().Type() {
		rel |= SameType
	}
	if i1.Size() == i2.Size() {
		rel |= SameSize
	}
	if i1.ModTime().After(i2.ModTime()) {
		rel |= FirstNewer
	} else if i2.ModTime().After(i1.ModTime()) {
		rel |= SecondNewer
	}
	return rel, nil
}

// TempDirOnTmpfs creates a mkdtemp-style directory under base (os.TempDir
// when base is empty) and mounts a fresh tmpfs over it, so that anything
// written under it never touches a real disk. Call the returned cleanup
// function to lazily unmount the tmpfs and remove the directory.
func TempDirOnTmpfs(base, pattern string) (dir string, cleanup func() error, err error) {
	dir, err = os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, err
	}
	if err := MountTmpfs(dir); err != nil {
		os.Remove(dir)
		return "", nil, err
	}
	cleanup = func() error {
		if err := LazyUnmount(dir); err != nil {
			return err
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// mountErrorf formats a mount-syscall failure the way requires:
// the options string plus the underlying errno text, for operator
// diagnosis.
func mountErrorf(what string, err error) error {
	return fmt.Errorf("fsops: mount failed (%s): %w", what, err)
}

// JoinLower joins lower directories in overlayfs's colon-separated,
// highest-priority-first order.
func JoinLower(dirs ...string) string {
	return strings.Join(dirs, ":")
}
