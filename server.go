package aio

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/818000/aio/internal/netutil"
)

type acceptOp struct {
	attachment any
	handler    CompletionHandler[*SocketChannel]
}

// 哨兵描述符：accept 完成回调执行期间占位，链发提交与并发关闭在
// 同一原子槽上裁决出唯一驱动方。
var acceptChainToken = new(acceptOp)

// ServerChannel 为服务端监听通道；accept 事件统一停靠 common worker。
// 同时至多一个 accept 在途。
type ServerChannel struct {
	fd int
	g  *Group

	acceptOp atomic.Pointer[acceptOp]

	closed atomic.Bool
}

// Bind 绑定并监听本地地址；network 与 backlog 取自组配置。
func (s *ServerChannel) Bind(address string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.fd >= 0 {
		return ErrAlreadyBound
	}
	fd, err := netutil.OpenListener(s.g.cfg.Network, address, s.g.cfg.ReusePort, s.g.cfg.Backlog)
	if err != nil {
		return err
	}
	s.fd = fd
	return nil
}

// Accept 发起一次异步 accept。已有 accept 在途时立即返回 ErrAcceptPending。
func (s *ServerChannel) Accept(attachment any, handler CompletionHandler[*SocketChannel]) error {
	if handler == nil {
		return ErrInvalidArgument
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if s.fd < 0 {
		return ErrNotBound
	}
	op := &acceptOp{attachment: attachment, handler: handler}
	for {
		if s.acceptOp.CompareAndSwap(nil, op) {
			break
		}
		// 完成回调窗口内的链发提交：交棒给在途的驱动循环
		if s.acceptOp.CompareAndSwap(acceptChainToken, op) {
			return nil
		}
		if cur := s.acceptOp.Load(); cur != nil && cur != acceptChainToken {
			return ErrAcceptPending
		}
	}
	for s.doAccept() {
	}
	return nil
}

// AcceptFuture 为 Accept 的 future 便捷形式。
func (s *ServerChannel) AcceptFuture() *Future[*SocketChannel] {
	f := newFuture[*SocketChannel]()
	if err := s.Accept(nil, f); err != nil {
		f.Failed(err, nil)
	}
	return f
}

// Connect 服务端通道永远不是连接发起方。
func (s *ServerChannel) Connect(_ string, _ any, _ CompletionHandler[struct{}]) error {
	return ErrUnsupported
}

// doAccept 执行一次直接 accept 尝试；返回 true 表示回调内链发了新的 accept。
func (s *ServerChannel) doAccept() bool {
	op := s.acceptOp.Load()
	if op == nil || op == acceptChainToken {
		return false
	}
	if s.closed.Load() {
		s.failAccept(op, ErrClosed)
		return false
	}
	if !s.g.isRunning() {
		s.failAccept(op, ErrShutdown)
		return false
	}
	if done, ok := op.handler.(doneChecker); ok && done.isDone() {
		s.acceptOp.CompareAndSwap(op, nil)
		return false
	}
	fd, _, err := netutil.Accept(s.fd)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		s.g.interestOps(s.g.commonWorker, s.fd, s, true, false, func(err error) {
			s.failAccept(op, err)
		})
		return false
	case err == unix.EINTR || err == unix.ECONNABORTED:
		return true // 重试
	case err != nil:
		s.failAccept(op, err)
		return false
	}
	_ = netutil.SetNoDelay(fd, true)
	ch := newAcceptedChannel(fd, s.g)
	if !s.acceptOp.CompareAndSwap(op, acceptChainToken) {
		// 关闭路径已接管投递：回收刚接入的连接
		_ = ch.Close()
		return false
	}
	op.handler.Completed(ch, op.attachment)
	if s.acceptOp.CompareAndSwap(acceptChainToken, nil) {
		return false
	}
	return true
}

func (s *ServerChannel) failAccept(op *acceptOp, err error) {
	if !s.acceptOp.CompareAndSwap(op, nil) {
		return
	}
	op.handler.Failed(err, op.attachment)
}

// ---- worker 就绪派发 ----

func (s *ServerChannel) onReadable(_ *Worker) {
	for s.doAccept() {
	}
}

func (s *ServerChannel) onWritable(_ *Worker) {}

func (s *ServerChannel) onError(_ *Worker, err error) {
	if op := s.acceptOp.Swap(nil); op != nil && op != acceptChainToken {
		op.handler.Failed(err, op.attachment)
		return
	}
	_ = s.Close()
}

// ---- 生命周期与元数据 ----

// Close 关闭监听通道：先排空挂起的 accept，再撤销注册并释放 socket。幂等。
func (s *ServerChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if op := s.acceptOp.Swap(nil); op != nil && op != acceptChainToken {
		op.handler.Failed(ErrClosed, op.attachment)
	}
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	w := s.g.commonWorker
	if w != nil {
		w.addRegister(func() { w.detach(fd, s) })
	}
	return netutil.Close(fd)
}

// IsOpen 报告通道是否仍然打开。
func (s *ServerChannel) IsOpen() bool { return !s.closed.Load() }

// LocalAddr 返回监听地址。
func (s *ServerChannel) LocalAddr() (net.Addr, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.fd < 0 {
		return nil, ErrNotBound
	}
	return netutil.LocalAddr(s.fd)
}
