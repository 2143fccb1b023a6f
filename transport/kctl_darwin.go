//go:build darwin

package transport

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// The kernel drops notifications with ENOBUFS whenever the socket's
// receive buffer fills up, so ask for a roomy one.
const recvBufferSize int = 1 << 20

type kernelControl struct {
	fd int
}

// Dial connects to the kernel control registered under name.
func Dial(name string) (Transport, error) {
	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, unix.SYSPROTO_CONTROL)
	if err != nil {
		return nil, fmt.Errorf("couldn't create the control socket: %w", err)
	}

	ctlInfo := unix.CtlInfo{}
	copy(ctlInfo.Name[:], name)
	if err := unix.IoctlCtlInfo(fd, &ctlInfo); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("couldn't resolve the id of control %q: %w", name, err)
	}

	if err := unix.Connect(fd, &unix.SockaddrCtl{ID: ctlInfo.Id, Unit: 0}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("couldn't connect to control %q (id %d): %w", name, ctlInfo.Id, err)
	}

	// Failing to grow the buffer only means we'll see more ENOBUFS.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize)

	return &kernelControl{fd: fd}, nil
}

func (k *kernelControl) Send(msg []byte) error {
	n, err := unix.Write(k.fd, msg)
	if err != nil {
		return fmt.Errorf("error writing to the control socket: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("short write to the control socket: %d of %d bytes", n, len(msg))
	}
	return nil
}

func (k *kernelControl) Ready(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLIN}}

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("error polling the control socket: %w", err)
	}

	if n == 0 {
		return false, nil
	}

	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("control socket poll reported events %#x", fds[0].Revents)
	}

	return fds[0].Revents&unix.POLLIN != 0, nil
}

func (k *kernelControl) Receive(buf []byte) (int, error) {
	n, err := unix.Read(k.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading from the control socket: %w", err)
	}
	return n, nil
}

func (k *kernelControl) Close() error {
	if err := unix.Close(k.fd); err != nil {
		return fmt.Errorf("error closing the control socket: %w", err)
	}
	return nil
}

// KernelVersion returns the version string of the running kernel as
// reported by uname(3).
func KernelVersion() (string, error) {
	uts := unix.Utsname{}
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("error calling uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Version[:]), nil
}
