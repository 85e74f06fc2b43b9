package poller

import "errors"

// FD 表示文件描述符。
type FD = int

// ErrPlatformNotSupported 非 Linux/Darwin 平台的占位错误（需要 epoll/kqueue）。
var ErrPlatformNotSupported = errors.New("poller: platform not supported (requires epoll or kqueue)")

// Handler 是 poller 的事件回调接口。
// 在拥有者 goroutine 中调用，要求无阻塞返回。

type Handler interface {
	OnReadable(fd FD)
	OnWritable(fd FD)
	OnError(fd FD, err error)
}

// Poller 提供注册与单轮等待。
// 约定：除 Wake 外的所有方法仅允许拥有者 goroutine 调用，
// 跨 goroutine 的注册请求由上层排队后在拥有者 goroutine 中执行。

type Poller interface {
	Register(fd FD, readable, writable bool) error
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error
	// Poll 阻塞等待一轮就绪事件并逐个派发给 h；被 Wake 唤醒时清空唤醒标记后返回。
	Poll(h Handler) error
	Wake() error
	Close() error
}
