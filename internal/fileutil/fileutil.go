// Package fileutil provides filesystem helpers: copying, chmod-aware
// removal, and directory-content moves that tolerate read-only parents.
// The digger uses its chmod-aware removal to clean up scratch directories.
package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Copy copies a single file from src to dst, preserving neither mode nor
// ownership beyond what /usr/bin/cp does by default.
func Copy(src, dst string) error {
	cmd := exec.Command("/usr/bin/cp", "--", src, dst)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CopyTree recursively copies src into dst.
func CopyTree(src, dst string) error {
	cmd := exec.Command("/usr/bin/cp", "-r", "--", src, dst)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// MoveDirContents moves the contents of from into to, temporarily granting
// u+w on any read-only directory entries so the rename succeeds, then
// restoring the original mode.
func MoveDirContents(from, to string) error {
	entries, err := os.ReadDir(from)
	if err != nil {
		return err
	}

	for _, e := range entries {
		src := filepath.Join(from, e.Name())
		dst := filepath.Join(to, e.Name())

		var mode fs.FileMode
		if e.IsDir() {
			info, err := e.Info()
			if err != nil {
				return err
			}
			mode = info.Mode()
			if mode.Perm()&unix.S_IWUSR == 0 {
				if err := os.Chmod(src, mode.Perm()|unix.S_IWUSR); err != nil {
					return err
				}
			}
		}

		if err := os.Rename(src, dst); err != nil {
			return err
		}

		if e.IsDir() {
			if err := os.Chmod(dst, mode.Perm()); err != nil {
				return err
			}
		}
	}

	return nil
}

// RemoveWithChmod removes path after ensuring the parent directory is
// writable, then restores the parent's original mode.
func RemoveWithChmod(path string) error {
	parent := filepath.Dir(path)
	stat, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if err := os.Chmod(parent, 0o700); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	return os.Chmod(parent, stat.Mode())
}

// RemoveAllWithChmod recursively removes path, chmod'ing every directory
// along the way so removal never fails on a read-only scaffold directory
// (overlay upper/work dirs are frequently created 0000/0500 by the kernel).
func RemoveAllWithChmod(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	if err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().Perm()&0o700 == 0o700 {
			return nil
		}
		return os.Chmod(p, 0o700)
	}); err != nil {
		return err
	}

	parent := filepath.Dir(path)
	stat, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if err := os.Chmod(parent, 0o700); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.Chmod(parent, stat.Mode())
}

// CreateEmpty creates an empty regular file at path, along with any missing
// parent directories. Used when a bind-mount target must exist as a file
// before the mount succeeds.
func CreateEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}
	return f.Close()
}
