//go:build linux || darwin

package netutil

import (
	"net"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ResolveSockaddr 将 tcp/tcp4/tcp6 地址解析为 socket 族与 Sockaddr。
func ResolveSockaddr(network, address string) (family int, sa unix.Sockaddr, err error) {
	family = unix.AF_INET
	if strings.HasSuffix(network, "6") {
		family = unix.AF_INET6
	}
	if family == unix.AF_INET6 {
		addr, rerr := net.ResolveTCPAddr("tcp6", address)
		if rerr != nil {
			return 0, nil, errors.Wrap(rerr, "netutil: resolve tcp6")
		}
		var sa6 unix.SockaddrInet6
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		sa6.Port = addr.Port
		return family, &sa6, nil
	}
	addr, rerr := net.ResolveTCPAddr("tcp4", address)
	if rerr != nil {
		return 0, nil, errors.Wrap(rerr, "netutil: resolve tcp4")
	}
	var sa4 unix.SockaddrInet4
	if addr.IP != nil {
		copy(sa4.Addr[:], addr.IP.To4())
	}
	sa4.Port = addr.Port
	return family, &sa4, nil
}

// SockaddrToAddr 把内核返回的 Sockaddr 转成 net.Addr；未知类型返回 nil。
func SockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}

// LocalAddr 返回 fd 的本端地址。
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return SockaddrToAddr(sa), nil
}

// RemoteAddr 返回 fd 的对端地址。
func RemoteAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, err
	}
	return SockaddrToAddr(sa), nil
}
