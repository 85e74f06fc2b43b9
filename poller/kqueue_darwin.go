//go:build darwin

package poller

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var errHangup = errors.New("poller: eof|err")

type kqueuePoller struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	events []unix.Kevent_t
	close  bool
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "poller: kqueue")
	}
	// 使用管道作为唤醒
	var pp [2]int
	if err := unix.Pipe(pp[:]); err != nil {
		unix.Close(kq)
		return nil, errors.Wrap(err, "poller: pipe")
	}
	rfd, wfd := pp[0], pp[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, errors.Wrap(err, "poller: register wakeup pipe")
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd, events: make([]unix.Kevent_t, 256)}, nil
}

// apply 提交变更；删除不存在的过滤器产生的 ENOENT 忽略。
func (p *kqueuePoller) apply(changes []unix.Kevent_t) error {
	for _, c := range changes {
		if _, err := unix.Kevent(p.kq, []unix.Kevent_t{c}, nil, nil); err != nil {
			if c.Flags&unix.EV_DELETE != 0 && (err == unix.ENOENT || err == unix.EBADF) {
				continue
			}
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	var changes []unix.Kevent_t
	if readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	return p.apply(changes)
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	// kqueue 的 Mod 等价为删除不需要的再添加
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	if readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	return p.apply(changes)
}

func (p *kqueuePoller) Unregister(fd FD) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	return p.apply(changes)
}

func (p *kqueuePoller) Wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	p.close = true
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Poll(h Handler) error {
	defer runtime.KeepAlive(p)
	buf := make([]byte, 16)
	for {
		if p.close {
			return unix.EBADF
		}
		n, err := unix.Kevent(p.kq, nil, p.events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			ev := p.events[i]
			fd := int(ev.Ident)
			if fd == p.rfd {
				for {
					if _, rerr := unix.Read(p.rfd, buf); rerr != nil {
						break
					}
				}
				continue
			}
			// 优先派发可读/可写；EOF 由上层读到 0 字节处理
			if ev.Filter == unix.EVFILT_READ {
				h.OnReadable(fd)
				continue
			}
			if ev.Filter == unix.EVFILT_WRITE {
				h.OnWritable(fd)
				continue
			}
			if (ev.Flags & (unix.EV_EOF | unix.EV_ERROR)) != 0 {
				h.OnError(fd, errHangup)
			}
		}
		return nil
	}
}
