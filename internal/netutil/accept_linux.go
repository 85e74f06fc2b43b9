//go:build linux

package netutil

import "golang.org/x/sys/unix"

// Accept 接受一个连接，返回非阻塞的新 fd；无连接可接受时返回 EAGAIN。
func Accept(lfd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
