//go:build linux

package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/nsops"
)

// socketpair returns a connected pair of Unix-domain sockets as *os.File,
// one for the parent to keep and one to hand to the child's ExtraFiles.
func socketpair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: socketpair: %w", err)
	}
	parent = os.NewFile(uintptr(fds[0]), "wormhole-helper-parent")
	child = os.NewFile(uintptr(fds[1]), "wormhole-helper-child")
	return parent, child, nil
}

func fileToUnixConn(f *os.File) (*net.UnixConn, error) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("daemon: socket fd to net.Conn: %w", err)
	}
	f.Close()
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("daemon: socket fd is not a Unix-domain socket")
	}
	return uc, nil
}

// RunHelper is the setup-helper entry point: it creates a
// fresh mount namespace, assembles env inside it, opens
// /proc/self/ns/mnt, and sends that fd to the parent over the socket
// inherited as file descriptor 3 (cmd.ExtraFiles[0] in BeginAsyncSetup).
// The caller (cmd/wormhole's main, when HelperEnvVar is set) should
// os.Exit(0) on a nil return and a nonzero code otherwise; RunHelper
// itself never exits the process.
func RunHelper(ctx context.Context, env layer.Environment, opts assemble.Options) error {
	const socketFD = 3

	sockFile := os.NewFile(uintptr(socketFD), "wormhole-helper-socket")
	conn, err := fileToUnixConn(sockFile)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := nsops.CreateMountNamespace(); err != nil {
		return fmt.Errorf("daemon: helper: %w", err)
	}

	asm := assemble.New(opts)
	if _, err := asm.Assemble(ctx, env); err != nil {
		return fmt.Errorf("daemon: helper: assemble %q: %w", env.Name, err)
	}

	nsFile, err := os.Open("/proc/self/ns/mnt")
	if err != nil {
		return fmt.Errorf("daemon: helper: open /proc/self/ns/mnt: %w", err)
	}
	defer nsFile.Close()

	if err := sendNamespaceFD(conn, int(nsFile.Fd())); err != nil {
		return fmt.Errorf("daemon: helper: %w", err)
	}
	return nil
}
