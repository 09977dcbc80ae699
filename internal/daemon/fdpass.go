//go:build linux

package daemon

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sendNamespaceFD sends fd to the peer on conn as SCM_RIGHTS ancillary
// data ("sends a namespace fd opened on /proc/self/ns/mnt
// to the client over a Unix-domain socket"). The accompanying payload is a
// single byte; SCM_RIGHTS requires at least one byte of regular data to
// carry the control message on most kernels.
func sendNamespaceFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	n, oobn, err := conn.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("daemon: sendmsg namespace fd: %w", err)
	}
	if n != 1 || oobn != len(rights) {
		return fmt.Errorf("daemon: sendmsg namespace fd: short write (n=%d oobn=%d)", n, oobn)
	}
	return nil
}

// recvNamespaceFD blocks for the paired sendNamespaceFD and returns the
// received file descriptor, dup'd into this process's table.
func recvNamespaceFD(conn *net.UnixConn) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("daemon: recvmsg namespace fd: %w", err)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("daemon: parse control message: %w", err)
	}
	if len(msgs) == 0 {
		return -1, fmt.Errorf("daemon: no control message received")
	}

	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, fmt.Errorf("daemon: parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("daemon: control message carried no file descriptors")
	}
	return fds[0], nil
}
