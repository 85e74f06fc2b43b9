package aio

import (
	"context"
	"sync"
)

// Future 是完成回调的阻塞式结果接收器：同一个对象既实现
// CompletionHandler 供通道驱动，也向调用方提供 Get/Cancel。
// done 置位后结果槽与错误槽至多一项有值，后续完成一律丢弃。
type Future[V any] struct {
	mu     sync.Mutex
	doneCh chan struct{}
	result V
	err    error
	done   bool
}

// doneChecker 供读写继续体在下一次就绪回调时惰性探测取消。
type doneChecker interface {
	isDone() bool
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{doneCh: make(chan struct{})}
}

func (f *Future[V]) Completed(result V, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.result = result
	close(f.doneCh)
}

func (f *Future[V]) Failed(err error, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.err = err
	close(f.doneCh)
}

// Cancel 只阻止尚未发生的结果投递，不会打断进行中的系统调用。
// 已有结果时返回 false。
func (f *Future[V]) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.done = true
	f.err = ErrCancelled
	close(f.doneCh)
	return true
}

// Get 阻塞等待结果；ctx 取消只影响本次等待，不取消操作本身。
func (f *Future[V]) Get(ctx context.Context) (V, error) {
	select {
	case <-f.doneCh:
		return f.result, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// IsDone 报告结果（含取消）是否已经就位。
func (f *Future[V]) IsDone() bool { return f.isDone() }

func (f *Future[V]) isDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}
