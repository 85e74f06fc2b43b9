package aio

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/818000/aio/internal/netutil"
)

// readOp / writeOp 为单次操作的挂起描述符；每通道同时至多各一个在途。
type readOp struct {
	buf        []byte // 低内存模式下可为 nil，就绪后投递 Readable 信号
	attachment any
	handler    CompletionHandler[int]
}

type writeOp struct {
	buf        []byte
	attachment any
	handler    CompletionHandler[int]
}

type connectOp struct {
	attachment any
	handler    CompletionHandler[struct{}]
}

// 哨兵描述符：完成回调执行期间占位。链发的下一次提交、并发关闭与
// 在途失败都在同一原子槽上裁决，胜者唯一，因此驱动方与投递方唯一。
var (
	readChainToken  = new(readOp)
	writeChainToken = new(writeOp)
)

// SocketChannel 在一个非阻塞 socket 上模拟异步读写。
// 描述符用 atomic.Pointer 持有，使并发的第二次提交能立即失败；
// 完成投递以描述符 CAS 的胜者为准，输掉 CAS 的路径静默退出。
type SocketChannel struct {
	fd      int
	g       *Group
	rworker *Worker // 创建时轮转绑定的读 worker

	readOp    atomic.Pointer[readOp]
	writeOp   atomic.Pointer[writeOp]
	connectOp atomic.Pointer[connectOp]

	accepted  bool // 服务端接入的通道不允许 Connect
	connected atomic.Bool
	closed    atomic.Bool
	lowMemory bool
}

func newSocketChannel(g *Group) (*SocketChannel, error) {
	fd, err := netutil.NewStreamSocket(g.cfg.Network)
	if err != nil {
		return nil, err
	}
	return &SocketChannel{fd: fd, g: g, rworker: g.readWorker(), lowMemory: g.cfg.LowMemory}, nil
}

func newAcceptedChannel(fd int, g *Group) *SocketChannel {
	c := &SocketChannel{fd: fd, g: g, rworker: g.readWorker(), lowMemory: g.cfg.LowMemory, accepted: true}
	c.connected.Store(true)
	return c
}

// ---- 连接 ----

// Connect 发起非阻塞连接；完成事件停靠在 common worker。
func (c *SocketChannel) Connect(address string, attachment any, handler CompletionHandler[struct{}]) error {
	if handler == nil {
		return ErrInvalidArgument
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if c.accepted || c.connected.Load() {
		return ErrAlreadyConnected
	}
	op := &connectOp{attachment: attachment, handler: handler}
	if !c.connectOp.CompareAndSwap(nil, op) {
		return ErrConnectPending
	}
	if !c.g.isRunning() {
		c.failConnect(op, ErrShutdown)
		return nil
	}
	_, sa, err := netutil.ResolveSockaddr(c.g.cfg.Network, address)
	if err != nil {
		c.connectOp.CompareAndSwap(op, nil)
		return err
	}
	inProgress, err := netutil.StartConnect(c.fd, sa)
	if err != nil {
		c.failConnect(op, err)
		return nil
	}
	if !inProgress {
		c.completeConnect(op)
		return nil
	}
	c.g.interestOps(c.g.commonWorker, c.fd, c, false, true, func(err error) {
		c.failConnect(op, err)
	})
	return nil
}

// ConnectFuture 为 Connect 的 future 便捷形式。
func (c *SocketChannel) ConnectFuture(address string) *Future[struct{}] {
	f := newFuture[struct{}]()
	if err := c.Connect(address, nil, f); err != nil {
		f.Failed(err, nil)
	}
	return f
}

func (c *SocketChannel) finishConnect(op *connectOp) {
	if done, ok := op.handler.(doneChecker); ok && done.isDone() {
		c.connectOp.CompareAndSwap(op, nil)
		return
	}
	if err := netutil.FinishConnect(c.fd); err != nil {
		c.failConnect(op, err)
		return
	}
	c.completeConnect(op)
}

func (c *SocketChannel) completeConnect(op *connectOp) {
	if !c.connectOp.CompareAndSwap(op, nil) {
		return
	}
	c.connected.Store(true)
	op.handler.Completed(struct{}{}, op.attachment)
}

func (c *SocketChannel) failConnect(op *connectOp, err error) {
	if !c.connectOp.CompareAndSwap(op, nil) {
		return
	}
	op.handler.Failed(err, op.attachment)
}

// ---- 读路径 ----

// Read 发起一次异步读。已有读在途时立即返回 ErrReadPending，
// 不入队也不影响在途操作的结果。
func (c *SocketChannel) Read(buf []byte, attachment any, handler CompletionHandler[int]) error {
	if handler == nil {
		return ErrInvalidArgument
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if buf == nil {
		if !c.lowMemory {
			return ErrNoBuffer
		}
		// 无缓冲分支仅限回调式 API，future 调用方必须自带缓冲
		if _, ok := handler.(doneChecker); ok {
			return ErrNoBuffer
		}
	}
	op := &readOp{buf: buf, attachment: attachment, handler: handler}
	for {
		if c.readOp.CompareAndSwap(nil, op) {
			break
		}
		// 完成回调窗口内的链发提交：换下哨兵即交棒给在途的驱动循环
		if c.readOp.CompareAndSwap(readChainToken, op) {
			return nil
		}
		if cur := c.readOp.Load(); cur != nil && cur != readChainToken {
			return ErrReadPending
		}
	}
	c.driveRead(c.g.cfg.MaxDirectReads, false)
	return nil
}

// ReadFuture 为 Read 的 future 便捷形式。
func (c *SocketChannel) ReadFuture(buf []byte) *Future[int] {
	f := newFuture[int]()
	if err := c.Read(buf, nil, f); err != nil {
		f.Failed(err, nil)
	}
	return f
}

// ReadWithTimeout 仅接受零超时（退化为 Read），非零超时立即拒绝。
func (c *SocketChannel) ReadWithTimeout(buf []byte, timeout time.Duration, attachment any, handler CompletionHandler[int]) error {
	if timeout != 0 {
		return ErrTimeoutUnsupported
	}
	return c.Read(buf, attachment, handler)
}

// Readv 分散读不受支持。
func (c *SocketChannel) Readv(_ [][]byte, _ any, _ CompletionHandler[int]) error {
	return ErrUnsupported
}

// driveRead 以显式深度预算迭代驱动读继续体；ready 仅在来自就绪
// 事件的首轮为 true，用于无缓冲时投递 Readable 信号。
func (c *SocketChannel) driveRead(budget int, ready bool) {
	for c.doRead(budget, ready) {
		budget--
		ready = false
	}
}

// doRead 执行一次直读尝试。返回 true 表示回调内又链发了新的读，
// 需要外层循环继续驱动。
func (c *SocketChannel) doRead(budget int, ready bool) bool {
	op := c.readOp.Load()
	if op == nil || op == readChainToken {
		return false
	}
	if c.closed.Load() {
		c.failRead(op, ErrClosed)
		return false
	}
	if !c.g.isRunning() {
		c.failRead(op, ErrShutdown)
		return false
	}
	if done, ok := op.handler.(doneChecker); ok && done.isDone() {
		// future 已取消：拆除挂起描述符，不再投递结果
		c.readOp.CompareAndSwap(op, nil)
		return false
	}
	if budget <= 0 {
		// 直读预算耗尽：转交读 worker 以新栈继续，防止完成链无限增长
		w := c.rworker
		w.addRegister(func() { c.driveRead(c.g.cfg.MaxDirectReads, false) })
		return false
	}
	if op.buf == nil {
		if ready {
			// 低内存模式：数据已就绪但尚未分配缓冲，投递就绪信号
			return c.completeRead(op, Readable)
		}
		c.interestRead(op)
		return false
	}
	if len(op.buf) == 0 {
		// 目标缓冲无剩余空间，按约定立即完成
		return c.completeRead(op, 0)
	}
	n, err := unix.Read(c.fd, op.buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.interestRead(op)
		return false
	case err != nil:
		c.failRead(op, err)
		return false
	case n == 0:
		return c.completeRead(op, EOF)
	default:
		return c.completeRead(op, n)
	}
}

// interestRead 注册读兴趣。future 等待者停靠 common worker，
// 避免同步等待者挤占读 worker。
func (c *SocketChannel) interestRead(op *readOp) {
	w := c.rworker
	if _, ok := op.handler.(doneChecker); ok {
		w = c.g.commonWorker
	}
	c.g.interestOps(w, c.fd, c, true, false, func(err error) {
		c.failRead(op, err)
	})
}

// completeRead 先把描述符换成占位哨兵再回调，回调中（或回调通知的
// 其他 goroutine）链发的下一次读换下哨兵即落到本驱动循环上。
// 输掉第一个 CAS 说明关闭/失败路径已接管投递，不得重复回调。
// 返回 true 表示链发了新读，外层需继续驱动。
func (c *SocketChannel) completeRead(op *readOp, n int) bool {
	if !c.readOp.CompareAndSwap(op, readChainToken) {
		return false
	}
	op.handler.Completed(n, op.attachment)
	// 归还哨兵失败说明槽里已换上新描述符
	if c.readOp.CompareAndSwap(readChainToken, nil) {
		return false
	}
	return true
}

func (c *SocketChannel) failRead(op *readOp, err error) {
	if !c.readOp.CompareAndSwap(op, nil) {
		return
	}
	op.handler.Failed(err, op.attachment)
}

// ---- 写路径 ----

// Write 发起一次异步写。已有写在途时立即返回 ErrWritePending。
func (c *SocketChannel) Write(buf []byte, attachment any, handler CompletionHandler[int]) error {
	if handler == nil {
		return ErrInvalidArgument
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	op := &writeOp{buf: buf, attachment: attachment, handler: handler}
	for {
		if c.writeOp.CompareAndSwap(nil, op) {
			break
		}
		// 完成回调窗口内的链发提交：交棒给在途的驱动循环
		if c.writeOp.CompareAndSwap(writeChainToken, op) {
			return nil
		}
		if cur := c.writeOp.Load(); cur != nil && cur != writeChainToken {
			return ErrWritePending
		}
	}
	for c.doWrite() {
	}
	return nil
}

// WriteFuture 为 Write 的 future 便捷形式。
func (c *SocketChannel) WriteFuture(buf []byte) *Future[int] {
	f := newFuture[int]()
	if err := c.Write(buf, nil, f); err != nil {
		f.Failed(err, nil)
	}
	return f
}

// WriteWithTimeout 仅接受零超时（退化为 Write），非零超时立即拒绝。
func (c *SocketChannel) WriteWithTimeout(buf []byte, timeout time.Duration, attachment any, handler CompletionHandler[int]) error {
	if timeout != 0 {
		return ErrTimeoutUnsupported
	}
	return c.Write(buf, attachment, handler)
}

// Writev 聚集写不受支持。
func (c *SocketChannel) Writev(_ [][]byte, _ any, _ CompletionHandler[int]) error {
	return ErrUnsupported
}

// doWrite 执行一次直写尝试；返回 true 表示回调内链发了新的写，
// 调用方应继续 while(doWrite()) 迭代。
func (c *SocketChannel) doWrite() bool {
	op := c.writeOp.Load()
	if op == nil || op == writeChainToken {
		return false
	}
	if c.closed.Load() {
		c.failWrite(op, ErrClosed)
		return false
	}
	if !c.g.isRunning() {
		c.failWrite(op, ErrShutdown)
		return false
	}
	if done, ok := op.handler.(doneChecker); ok && done.isDone() {
		c.writeOp.CompareAndSwap(op, nil)
		return false
	}
	if len(op.buf) == 0 {
		return c.completeWrite(op, 0)
	}
	n, err := unix.Write(c.fd, op.buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.interestWrite(op)
		return false
	case err != nil:
		c.failWrite(op, err)
		return false
	case n == 0:
		// 内核发送缓冲已满
		c.interestWrite(op)
		return false
	default:
		// 部分写同样按本次写入量完成，余量由调用方续写
		return c.completeWrite(op, n)
	}
}

func (c *SocketChannel) interestWrite(op *writeOp) {
	c.g.interestOps(c.g.writeWorker, c.fd, c, false, true, func(err error) {
		c.failWrite(op, err)
	})
}

// completeWrite 与 completeRead 同一套哨兵交棒协议。
func (c *SocketChannel) completeWrite(op *writeOp, n int) bool {
	if !c.writeOp.CompareAndSwap(op, writeChainToken) {
		return false
	}
	op.handler.Completed(n, op.attachment)
	if c.writeOp.CompareAndSwap(writeChainToken, nil) {
		return false
	}
	return true
}

func (c *SocketChannel) failWrite(op *writeOp, err error) {
	if !c.writeOp.CompareAndSwap(op, nil) {
		return
	}
	op.handler.Failed(err, op.attachment)
}

// ---- worker 就绪派发 ----

func (c *SocketChannel) onReadable(_ *Worker) {
	c.driveRead(c.g.cfg.MaxDirectReads, true)
}

func (c *SocketChannel) onWritable(_ *Worker) {
	if op := c.connectOp.Load(); op != nil {
		c.finishConnect(op)
		return
	}
	for c.doWrite() {
	}
}

func (c *SocketChannel) onError(_ *Worker, err error) {
	delivered := false
	if op := c.connectOp.Swap(nil); op != nil {
		// 连接失败的真实 errno 在 SO_ERROR 里，而非多路复用器的笼统错误
		cerr := err
		if soerr := netutil.FinishConnect(c.fd); soerr != nil {
			cerr = soerr
		}
		op.handler.Failed(cerr, op.attachment)
		delivered = true
	}
	if op := c.readOp.Swap(nil); op != nil && op != readChainToken {
		op.handler.Failed(err, op.attachment)
		delivered = true
	}
	if op := c.writeOp.Swap(nil); op != nil && op != writeChainToken {
		op.handler.Failed(err, op.attachment)
		delivered = true
	}
	if !delivered {
		// 无挂起操作（如关停排空期间）：直接关闭通道
		_ = c.Close()
	}
}

// ---- 生命周期与元数据 ----

// Close 关闭通道：先强制排空挂起操作（回调不被静默丢弃），
// 再撤销各 worker 上的注册并释放 socket。重复调用为空操作。
func (c *SocketChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if op := c.connectOp.Swap(nil); op != nil {
		op.handler.Failed(ErrClosed, op.attachment)
	}
	if op := c.readOp.Swap(nil); op != nil && op != readChainToken {
		op.handler.Failed(ErrClosed, op.attachment)
	}
	if op := c.writeOp.Swap(nil); op != nil && op != writeChainToken {
		op.handler.Failed(ErrClosed, op.attachment)
	}
	c.detachAll()
	return netutil.Close(c.fd)
}

func (c *SocketChannel) detachAll() {
	fd := c.fd
	workers := []*Worker{c.rworker, c.g.writeWorker, c.g.commonWorker}
	for _, w := range workers {
		if w == nil {
			continue
		}
		w := w
		w.addRegister(func() { w.detach(fd, c) })
	}
}

// IsOpen 报告通道是否仍然打开。
func (c *SocketChannel) IsOpen() bool { return !c.closed.Load() }

// ShutdownInput 关闭读方向；对端后续读到 EOF 正常投递。
func (c *SocketChannel) ShutdownInput() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return netutil.ShutdownRead(c.fd)
}

// ShutdownOutput 关闭写方向。
func (c *SocketChannel) ShutdownOutput() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return netutil.ShutdownWrite(c.fd)
}

// LocalAddr 返回本端地址。
func (c *SocketChannel) LocalAddr() (net.Addr, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return netutil.LocalAddr(c.fd)
}

// RemoteAddr 返回对端地址。
func (c *SocketChannel) RemoteAddr() (net.Addr, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	return netutil.RemoteAddr(c.fd)
}
