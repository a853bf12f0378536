//go:build linux || darwin

package loopchan

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// pollFD blocks until fd is readable, or timeoutMs elapses (-1 blocks
// indefinitely). EINTR is retried.
func pollFD(fd int, timeoutMs int) error {
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(pfds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
