package aio

import "github.com/818000/aio/internal/netutil"

// Option 标识一项 socket 选项；布尔型选项取值 0/1。
type Option int

const (
	ReuseAddr Option = iota
	ReusePort
	NoDelay
	KeepAlive
	RecvBuffer
	SendBuffer
)

func (o Option) String() string {
	switch o {
	case ReuseAddr:
		return "SO_REUSEADDR"
	case ReusePort:
		return "SO_REUSEPORT"
	case NoDelay:
		return "TCP_NODELAY"
	case KeepAlive:
		return "SO_KEEPALIVE"
	case RecvBuffer:
		return "SO_RCVBUF"
	case SendBuffer:
		return "SO_SNDBUF"
	}
	return "UNKNOWN"
}

func setOption(fd int, opt Option, v int) error {
	switch opt {
	case ReuseAddr:
		return netutil.SetReuseAddr(fd, v != 0)
	case ReusePort:
		return netutil.SetReusePort(fd, v != 0)
	case NoDelay:
		return netutil.SetNoDelay(fd, v != 0)
	case KeepAlive:
		return netutil.SetKeepAlive(fd, v != 0)
	case RecvBuffer:
		return netutil.SetRecvBuf(fd, v)
	case SendBuffer:
		return netutil.SetSendBuf(fd, v)
	}
	return ErrUnsupported
}

func getOption(fd int, opt Option) (int, error) {
	switch opt {
	case ReuseAddr:
		return netutil.GetReuseAddr(fd)
	case ReusePort:
		return netutil.GetReusePort(fd)
	case NoDelay:
		return netutil.GetNoDelay(fd)
	case KeepAlive:
		return netutil.GetKeepAlive(fd)
	case RecvBuffer:
		return netutil.GetRecvBuf(fd)
	case SendBuffer:
		return netutil.GetSendBuf(fd)
	}
	return 0, ErrUnsupported
}

// SetOption 设置 socket 选项。
func (c *SocketChannel) SetOption(opt Option, v int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	switch opt {
	case ReuseAddr, NoDelay, KeepAlive, RecvBuffer, SendBuffer:
		return setOption(c.fd, opt, v)
	}
	return ErrUnsupported
}

// GetOption 读取 socket 选项当前值。
func (c *SocketChannel) GetOption(opt Option) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return getOption(c.fd, opt)
}

// SupportedOptions 返回客户端通道支持的选项集。
func (c *SocketChannel) SupportedOptions() []Option {
	return []Option{ReuseAddr, NoDelay, KeepAlive, RecvBuffer, SendBuffer}
}

// SetOption 设置监听 socket 选项；应在 Bind 之后调用。
func (s *ServerChannel) SetOption(opt Option, v int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.fd < 0 {
		return ErrNotBound
	}
	switch opt {
	case ReuseAddr, ReusePort, RecvBuffer:
		return setOption(s.fd, opt, v)
	}
	return ErrUnsupported
}

// GetOption 读取监听 socket 选项当前值。
func (s *ServerChannel) GetOption(opt Option) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.fd < 0 {
		return 0, ErrNotBound
	}
	return getOption(s.fd, opt)
}

// SupportedOptions 返回服务端通道支持的选项集。
func (s *ServerChannel) SupportedOptions() []Option {
	return []Option{ReuseAddr, ReusePort, RecvBuffer}
}
