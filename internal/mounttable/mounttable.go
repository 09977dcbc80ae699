//go:build linux

// Package mounttable reads the kernel's mountinfo table into a path-state
// tree, tagging each mount point SystemMount(fstype, device). Parsing
// follows the same "open, bufio.Scanner, split fields" idiom used
// elsewhere in this codebase for other line-oriented kernel/config
// formats.
package mounttable

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wormholefs/wormhole/internal/pathstate"
)

// DefaultPath is the mountinfo file read when Snapshot is called with "".
const DefaultPath = "/proc/self/mountinfo"

// octalUnescape undoes the octal escaping mountinfo applies to spaces,
// tabs, newlines, and backslashes in path fields.
func octalUnescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Snapshot parses the mountinfo file at path (DefaultPath if empty) and
// returns a new path-state tree with one SystemMount node per mount point.
//
// When root is non-empty, only mount points at or below root are included,
// and their recorded path has root's prefix stripped (re-rooted); mount
// points outside root are dropped
func Snapshot(path, root string) (*pathstate.Tree, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mounttable: open %s: %w", path, err)
	}
	defer f.Close()

	tree := pathstate.New()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		entry, ok := parseLine(sc.Text())
		if !ok {
			continue
		}

		mountPoint := entry.mountPoint
		if root != "" {
			if mountPoint != root && !strings.HasPrefix(mountPoint, strings.TrimSuffix(root, "/")+"/") {
				continue
			}
			rebased := strings.TrimPrefix(mountPoint, root)
			if rebased == "" {
				rebased = "/"
			}
			mountPoint = rebased
		}

		tree.Set(mountPoint, pathstate.SystemMount, pathstate.SystemMountPayload{
			FSType: entry.fsType,
			Device: entry.device,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mounttable: read %s: %w", path, err)
	}

	return tree, nil
}

type mountEntry struct {
	mountPoint string
	fsType     string
	device     string
}

// parseLine parses one /proc/self/mountinfo line:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//
// The "-" separator marks the boundary between the optional fields and the
// fixed trailer (fstype, mount source, super options).
func parseLine(line string) (mountEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return mountEntry{}, false
	}

	sepIdx := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sepIdx = i
			break
		}
	}
	if sepIdx < 0 || sepIdx+2 >= len(fields) {
		return mountEntry{}, false
	}

	return mountEntry{
		mountPoint: octalUnescape(fields[4]),
		fsType:     fields[sepIdx+1],
		device:     fields[sepIdx+2],
	}, true
}
