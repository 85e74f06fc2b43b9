//go:build linux || darwin

package netutil

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OpenListener 创建非阻塞监听 socket 并完成 bind/listen。
// 仅支持 tcp 与 tcp4/tcp6。
func OpenListener(network, address string, reusePort bool, backlog int) (int, error) {
	family, sa, err := ResolveSockaddr(network, address)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "netutil: socket")
	}
	_ = SetReuseAddr(fd, true)
	if reusePort {
		_ = SetReusePort(fd, true)
	}
	_ = unix.SetNonblock(fd, true)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "netutil: bind")
	}
	if backlog <= 0 {
		backlog = 1024
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "netutil: listen")
	}
	return fd, nil
}

// NewStreamSocket 创建未连接的非阻塞 socket。
func NewStreamSocket(network string) (int, error) {
	family := unix.AF_INET
	if strings.HasSuffix(network, "6") {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "netutil: socket")
	}
	_ = unix.SetNonblock(fd, true)
	return fd, nil
}

// StartConnect 发起非阻塞连接；inProgress 为 true 表示需等待可写完成。
func StartConnect(fd int, sa unix.Sockaddr) (inProgress bool, err error) {
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return false, nil
	case unix.EINPROGRESS, unix.EINTR:
		return true, nil
	default:
		return false, err
	}
}

// FinishConnect 在可写事件后读取 SO_ERROR 判定连接结果。
func FinishConnect(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}
