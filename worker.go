package aio

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/818000/aio/poller"
)

// eventHandler 由各通道实现；回调总是运行在 worker 拥有者 goroutine 上。
type eventHandler interface {
	onReadable(w *Worker)
	onWritable(w *Worker)
	onError(w *Worker, err error)
}

// Worker 独占一个 poller 与一个事件循环 goroutine。
// 硬性约束：poller 的注册/变更只发生在拥有者 goroutine 上，
// 外部请求经 addRegister 排队，在每轮等待前排空。
type Worker struct {
	p        poller.Poller
	mu       sync.Mutex
	pending  *queue.Queue // func() 队列，单消费者
	handlers sync.Map     // fd -> eventHandler
	closing  atomic.Bool
	done     chan struct{}
}

func newWorker() (*Worker, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	w := &Worker{p: p, pending: queue.New(), done: make(chan struct{})}
	go w.run()
	return w, nil
}

// addRegister 从任意 goroutine 排队一个将在拥有者 goroutine 上执行的变更回调。
func (w *Worker) addRegister(fn func()) {
	w.mu.Lock()
	w.pending.Add(fn)
	w.mu.Unlock()
	_ = w.p.Wake()
}

func (w *Worker) drainPending() {
	for {
		w.mu.Lock()
		if w.pending.Length() == 0 {
			w.mu.Unlock()
			return
		}
		fn := w.pending.Remove().(func())
		w.mu.Unlock()
		w.invoke(fn)
	}
}

// invoke 隔离单个回调的失败，单个坏注册不能杀死事件循环。
func (w *Worker) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("aio: register callback panic: %v", r)
		}
	}()
	fn()
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		w.drainPending()
		if w.closing.Load() {
			break
		}
		if err := w.p.Poll(w); err != nil {
			if !w.closing.Load() {
				log.Printf("aio: poller wait: %v", err)
			}
			break
		}
	}
	// 关停：撤销全部注册并向仍然挂起的操作投递失败
	w.handlers.Range(func(k, v any) bool {
		fd := k.(int)
		_ = w.p.Unregister(fd)
		w.handlers.Delete(k)
		w.invoke(func() { v.(eventHandler).onError(w, ErrShutdown) })
		return true
	})
	w.drainPending()
	_ = w.p.Close()
}

func (w *Worker) shutdown() {
	if w.closing.CompareAndSwap(false, true) {
		_ = w.p.Wake()
	}
	<-w.done
}

// attach 登记 fd 的兴趣集；仅允许拥有者 goroutine 调用。
func (w *Worker) attach(fd int, h eventHandler, readable, writable bool) error {
	if w.closing.Load() {
		return ErrShutdown
	}
	if _, loaded := w.handlers.LoadOrStore(fd, h); loaded {
		return w.p.Mod(fd, readable, writable)
	}
	return w.p.Register(fd, readable, writable)
}

// detach 撤销 fd 的注册；带持有者校验，避免 fd 复用时误伤新注册。
func (w *Worker) detach(fd int, h eventHandler) {
	cur, ok := w.handlers.Load(fd)
	if !ok || (h != nil && cur != h) {
		return
	}
	w.handlers.Delete(fd)
	_ = w.p.Unregister(fd)
}

// 就绪派发：先摘除兴趣（等价 removeOps），再调用通道的继续体。

func (w *Worker) OnReadable(fd poller.FD) {
	v, ok := w.handlers.Load(fd)
	if !ok {
		return
	}
	w.detach(fd, nil)
	v.(eventHandler).onReadable(w)
}

func (w *Worker) OnWritable(fd poller.FD) {
	v, ok := w.handlers.Load(fd)
	if !ok {
		return
	}
	w.detach(fd, nil)
	v.(eventHandler).onWritable(w)
}

func (w *Worker) OnError(fd poller.FD, err error) {
	v, ok := w.handlers.Load(fd)
	if !ok {
		return
	}
	w.detach(fd, nil)
	v.(eventHandler).onError(w, err)
}
