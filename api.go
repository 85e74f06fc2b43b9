// Package aio 在就绪多路复用（epoll/kqueue）之上模拟回调/未来两种风格的
// 异步 socket API：少量固定的 worker goroutine 各自独占一个 poller，
// 跨 goroutine 的注册请求经队列封送到拥有者执行。
package aio

// Config 为通道组配置。
type Config struct {
	Network        string // 监听/连接的网络，如 "tcp"、"tcp4"、"tcp6"
	ReadWorkers    int    // 读 worker 数量
	MaxDirectReads int    // 单条完成链允许的同步直读次数，超出后转交读 worker
	LowMemory      bool   // 延迟分配读缓冲：就绪后先投递 Readable 信号
	ReusePort      bool   // 监听 socket 启用 SO_REUSEPORT
	Backlog        int    // listen backlog
}

// DefaultConfig 提供一组可工作的默认值。
func DefaultConfig() Config {
	return Config{
		Network:        "tcp",
		ReadWorkers:    1,
		MaxDirectReads: 8,
		Backlog:        1024,
	}
}

func (c *Config) normalize() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.ReadWorkers <= 0 {
		c.ReadWorkers = 1
	}
	if c.MaxDirectReads <= 0 {
		c.MaxDirectReads = 8
	}
	if c.Backlog <= 0 {
		c.Backlog = 1024
	}
}
