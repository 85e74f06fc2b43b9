//go:build linux

package poller

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var errHangup = errors.New("poller: err|hup")

type epollPoller struct {
	efd    int
	wfd    int // eventfd for wakeup
	events []unix.EpollEvent
	close  bool
}

func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "poller: epoll_create1")
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, errors.Wrap(err, "poller: eventfd")
	}
	p := &epollPoller{efd: efd, wfd: wfd, events: make([]unix.EpollEvent, 256)}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, errors.Wrap(err, "poller: register wakeup fd")
	}
	return p, nil
}

// 水平触发：兴趣集由拥有者按操作增删，就绪一次派发一次。
func epollFlags(readable, writable bool) uint32 {
	var flag uint32
	if readable {
		flag |= unix.EPOLLIN
	}
	if writable {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Register(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Mod(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd FD) error {
	err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		// fd 已被内核摘除（如已 close），视为成功
		return nil
	}
	return err
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	p.close = true
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

func (p *epollPoller) Poll(h Handler) error {
	defer runtime.KeepAlive(p)
	var efdBuf [8]byte
	for {
		if p.close {
			return unix.EBADF
		}
		n, err := unix.EpollWait(p.efd, p.events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			ev := p.events[i]
			fd := int(ev.Fd)
			if fd == p.wfd {
				// 清空 eventfd
				for {
					if _, rerr := unix.Read(p.wfd, efdBuf[:]); rerr != nil {
						break
					}
				}
				continue
			}
			if (ev.Events & (unix.EPOLLERR | unix.EPOLLHUP)) != 0 {
				h.OnError(fd, errHangup)
				continue
			}
			if (ev.Events & unix.EPOLLIN) != 0 {
				h.OnReadable(fd)
			}
			if (ev.Events & unix.EPOLLOUT) != 0 {
				h.OnWritable(fd)
			}
		}
		return nil
	}
}
