//go:build darwin

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Accept 接受一个连接；darwin 无 accept4，需要手动设置非阻塞与 CLOEXEC。
func Accept(lfd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, nil, err
	}
	syscall.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sa, nil
}
