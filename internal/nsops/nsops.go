//go:build linux

// Package nsops creates the mount (and, optionally, user) namespace that
// the environment assembler operates inside.
//
// The unprivileged-namespace setup (unshare of a user and a mount
// namespace with identity uid/gid maps) follows the same shape used elsewhere in this codebase for
// unprivileged container entry.
package nsops

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateMountNamespace unshares the calling process's mount namespace and
// verifies that /proc/self/ns/mnt now identifies a different namespace than
// before the call.
func CreateMountNamespace() error {
	before, err := mountNamespaceID()
	if err != nil {
		return fmt.Errorf("nsops: stat mount namespace: %w", err)
	}

	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("nsops: unshare mount namespace: %w", err)
	}

	after, err := mountNamespaceID()
	if err != nil {
		return fmt.Errorf("nsops: stat mount namespace after unshare: %w", err)
	}
	if before == after {
		return fmt.Errorf("nsops: unshare reported success but mount namespace identity did not change")
	}
	return nil
}

// Identity is the pre-unshare uid/gid captured by CreateUserNamespace, kept
// around so callers can report "who we really are" to diagnostics.
type Identity struct {
	UID int
	GID int
}

// CreateUserNamespace unshares a new user namespace together with a new
// mount namespace, and writes identity uid/gid maps ("<uid> <uid> 1") so
// the calling user appears as themselves inside the namespace — this is
// not privilege escalation, just enough mapping to keep existing file
// ownership checks meaningful. setgroups is denied first, as
// the kernel requires before an unprivileged gid_map write.
func CreateUserNamespace() (Identity, error) {
	id := Identity{UID: os.Getuid(), GID: os.Getgid()}

	if err := unix.Unshare(unix.CLONE_NEWUSER | unix.CLONE_NEWNS); err != nil {
		return id, fmt.Errorf("nsops: unshare user+mount namespace: %w", err)
	}

	if err := writeFile("/proc/self/setgroups", "deny"); err != nil {
		return id, fmt.Errorf("nsops: deny setgroups: %w", err)
	}
	if err := writeFile("/proc/self/uid_map", fmt.Sprintf("%d %d 1", id.UID, id.UID)); err != nil {
		return id, fmt.Errorf("nsops: write uid_map: %w", err)
	}
	if err := writeFile("/proc/self/gid_map", fmt.Sprintf("%d %d 1", id.GID, id.GID)); err != nil {
		return id, fmt.Errorf("nsops: write gid_map: %w", err)
	}

	return id, nil
}

func writeFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func mountNamespaceID() (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Stat("/proc/self/ns/mnt", &st); err != nil {
		return st, err
	}
	return st, nil
}

// SameNamespace reports whether two /proc/self/ns/mnt stat results refer to
// the same namespace (same device+inode).
func SameNamespace(a, b unix.Stat_t) bool {
	return a.Dev == b.Dev && a.Ino == b.Ino
}
