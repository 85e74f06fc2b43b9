package aio

import (
	"sync"
	"sync/atomic"
)

// Group 持有固定的一组 worker：若干读 worker、一个写 worker、
// 一个 common worker（注册、连接、accept 以及 future 停靠的读）。
// 生命周期内恰好关停一次，关停会解绕全部 worker。
type Group struct {
	cfg          Config
	readWorkers  []*Worker
	writeWorker  *Worker
	commonWorker *Worker
	running      atomic.Bool
	rr           atomic.Uint32 // 读 worker 轮转游标
	closeOnce    sync.Once
}

// NewGroup 创建通道组并启动全部 worker。
func NewGroup(cfg Config) (*Group, error) {
	cfg.normalize()
	g := &Group{cfg: cfg}
	g.running.Store(true)
	for i := 0; i < cfg.ReadWorkers; i++ {
		w, err := newWorker()
		if err != nil {
			g.Shutdown()
			return nil, err
		}
		g.readWorkers = append(g.readWorkers, w)
	}
	var err error
	if g.writeWorker, err = newWorker(); err != nil {
		g.Shutdown()
		return nil, err
	}
	if g.commonWorker, err = newWorker(); err != nil {
		g.Shutdown()
		return nil, err
	}
	return g, nil
}

// readWorker 轮转选取一个读 worker，通道创建时绑定。
func (g *Group) readWorker() *Worker {
	idx := int(g.rr.Add(1)) - 1
	return g.readWorkers[idx%len(g.readWorkers)]
}

func (g *Group) isRunning() bool { return g.running.Load() }

// interestOps 把兴趣集变更封送到拥有者 worker 执行；这是整个子系统
// 唯一的多路复用器变更入口。注册失败投递给 fail（即该操作的完成回调），
// 绝不向事件循环抛出。
func (g *Group) interestOps(w *Worker, fd int, h eventHandler, readable, writable bool, fail func(error)) {
	if !g.running.Load() {
		fail(ErrShutdown)
		return
	}
	w.addRegister(func() {
		if err := w.attach(fd, h, readable, writable); err != nil {
			fail(err)
		}
	})
}

// Shutdown 关停通道组：先置 running=false 拒绝新注册，再逐个
// 撤销 worker 的全部注册并停止其事件循环。幂等。
func (g *Group) Shutdown() {
	g.closeOnce.Do(func() {
		g.running.Store(false)
		for _, w := range g.readWorkers {
			w.shutdown()
		}
		if g.writeWorker != nil {
			g.writeWorker.shutdown()
		}
		if g.commonWorker != nil {
			g.commonWorker.shutdown()
		}
	})
}

// OpenSocketChannel 创建未连接的客户端通道。
func (g *Group) OpenSocketChannel() (*SocketChannel, error) {
	if !g.running.Load() {
		return nil, ErrShutdown
	}
	return newSocketChannel(g)
}

// OpenServerChannel 创建未绑定的服务端通道。
func (g *Group) OpenServerChannel() (*ServerChannel, error) {
	if !g.running.Load() {
		return nil, ErrShutdown
	}
	return &ServerChannel{fd: -1, g: g}, nil
}
