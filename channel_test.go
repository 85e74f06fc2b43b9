package aio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/818000/aio/internal/netutil"
)

func TestReadAlreadyPending(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, b := socketpairChannels(t, g)

	rec := newRecorder()
	buf := make([]byte, 16)
	require.NoError(t, a.Read(buf, "first", rec))

	// 第二次读必须立即失败，且不影响第一次的结果
	err := a.Read(make([]byte, 16), "second", newRecorder())
	require.ErrorIs(t, err, ErrReadPending)

	wrec := newRecorder()
	require.NoError(t, b.Write([]byte("HELLO"), nil, wrec))

	select {
	case <-rec.signal:
	case <-time.After(3 * time.Second):
		t.Fatal("pending read never completed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completions, 1)
	assert.Equal(t, 5, rec.completions[0])
	assert.Equal(t, "HELLO", string(buf[:5]))
	assert.Empty(t, rec.failures)
}

func TestWriteAlreadyPending(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, b := socketpairChannels(t, g)

	// 缩小发送缓冲并灌满，使后续写真正挂起
	_ = unix.SetsockoptInt(a.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096)
	junk := make([]byte, 4096)
	for {
		if _, err := unix.Write(a.fd, junk); err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		} else if err != nil {
			t.Fatalf("fill: %v", err)
		}
	}

	rec := newRecorder()
	require.NoError(t, a.Write([]byte("PENDING"), nil, rec))
	err := a.Write([]byte("SECOND"), nil, newRecorder())
	require.ErrorIs(t, err, ErrWritePending)

	// 对端排空后挂起写应完成
	go func() {
		drain := make([]byte, 64<<10)
		for {
			if _, err := unix.Read(b.fd, drain); err != nil && err != unix.EAGAIN {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-rec.signal:
	case <-time.After(3 * time.Second):
		t.Fatal("pending write never completed")
	}
	done, failed := rec.counts()
	assert.Equal(t, 1, done)
	assert.Zero(t, failed)
}

// 写完成回调内链发新写：完成投递次数必须等于提交次数。
func TestReentrantWriteNoDoubleCompletion(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, b := socketpairChannels(t, g)
	_ = b

	const chainDepth = 3
	var submitted atomic.Int32
	var completed atomic.Int32
	done := make(chan struct{})

	rec := newRecorder()
	rec.onComplete = func(int) {
		n := completed.Add(1)
		if n <= chainDepth {
			submitted.Add(1)
			assert.NoError(t, a.Write([]byte("x"), nil, rec))
		}
		if n == chainDepth+1 {
			close(done)
		}
	}
	submitted.Add(1)
	require.NoError(t, a.Write([]byte("x"), nil, rec))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("write chain did not finish")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, submitted.Load(), completed.Load())
}

// 直读预算耗尽后，完成链必须转移到 worker goroutine 继续。
func TestBoundedDirectReads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDirectReads = 4
	g := newTestGroup(t, cfg)
	a, b := socketpairChannels(t, g)

	const total = 20
	_, err := unix.Write(b.fd, make([]byte, total))
	require.NoError(t, err)

	caller := gid()
	var mu sync.Mutex
	var gids []uint64
	done := make(chan struct{})

	rec := newRecorder()
	rec.onComplete = func(int) {
		mu.Lock()
		gids = append(gids, gid())
		n := len(gids)
		mu.Unlock()
		if n < total {
			assert.NoError(t, a.Read(make([]byte, 1), nil, rec))
		} else {
			close(done)
		}
	}
	require.NoError(t, a.Read(make([]byte, 1), nil, rec))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("read chain did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gids, total)
	for i := 0; i < cfg.MaxDirectReads; i++ {
		assert.Equal(t, caller, gids[i], "completion %d should be direct", i)
	}
	for i := cfg.MaxDirectReads; i < total; i++ {
		assert.NotEqual(t, caller, gids[i], "completion %d should run on a worker", i)
	}
}

// close 必须先排空挂起读（恰好一次失败投递）再释放 socket。
func TestCloseDrainsPendingRead(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, _ := socketpairChannels(t, g)

	rec := newRecorder()
	require.NoError(t, a.Read(make([]byte, 16), nil, rec))
	time.Sleep(20 * time.Millisecond) // 让注册走到 worker

	require.NoError(t, a.Close())
	select {
	case <-rec.signal:
	case <-time.After(time.Second):
		t.Fatal("pending read not drained on close")
	}
	rec.mu.Lock()
	require.Len(t, rec.failures, 1)
	assert.ErrorIs(t, rec.failures[0], ErrClosed)
	assert.Empty(t, rec.completions)
	rec.mu.Unlock()

	assert.False(t, a.IsOpen())
	assert.NoError(t, a.Close()) // 幂等
	time.Sleep(50 * time.Millisecond)
	done, failed := rec.counts()
	assert.Equal(t, 0, done)
	assert.Equal(t, 1, failed)
}

func TestEndToEnd(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())

	srv, err := g.OpenServerChannel()
	require.NoError(t, err)
	require.NoError(t, srv.Bind("127.0.0.1:0"))
	defer srv.Close()
	addr, err := srv.LocalAddr()
	require.NoError(t, err)

	// 服务端：读 5 字节后原路写回 "WORLD"
	serverDone := make(chan string, 1)
	require.NoError(t, srv.Accept(nil, completionFunc[*SocketChannel]{
		completed: func(sc *SocketChannel, _ any) {
			buf := make([]byte, 5)
			_ = sc.Read(buf, nil, completionFunc[int]{
				completed: func(n int, _ any) {
					serverDone <- string(buf[:n])
					_ = sc.Write([]byte("WORLD"), nil, completionFunc[int]{
						completed: func(int, any) {},
						failed:    func(error, any) {},
					})
				},
				failed: func(err error, _ any) { t.Errorf("server read: %v", err) },
			})
		},
		failed: func(err error, _ any) { t.Errorf("accept: %v", err) },
	}))

	cli, err := g.OpenSocketChannel()
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = cli.ConnectFuture(addr.String()).Get(ctx)
	require.NoError(t, err)

	n, err := cli.WriteFuture([]byte("HELLO")).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	select {
	case got := <-serverDone:
		assert.Equal(t, "HELLO", got)
	case <-ctx.Done():
		t.Fatal("server never received payload")
	}

	reply := make([]byte, 5)
	n, err = cli.ReadFuture(reply).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "WORLD", string(reply[:n]))
}

// 低内存模式：数据就绪前不得投递，就绪后投递 Readable 且不分配缓冲。
func TestLowMemoryDeferredAllocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowMemory = true
	g := newTestGroup(t, cfg)
	a, b := socketpairChannels(t, g)

	payload := make(chan string, 1)
	rec := newRecorder()
	rec.onComplete = func(n int) {
		if n == Readable {
			// 收到就绪信号后再分配缓冲发起真正的读
			buf := make([]byte, 5)
			assert.NoError(t, a.Read(buf, nil, completionFunc[int]{
				completed: func(n int, _ any) { payload <- string(buf[:n]) },
				failed:    func(err error, _ any) { t.Errorf("real read: %v", err) },
			}))
		}
	}
	require.NoError(t, a.Read(nil, nil, rec))

	// 数据到达前不得有任何投递
	time.Sleep(50 * time.Millisecond)
	done, failed := rec.counts()
	require.Zero(t, done)
	require.Zero(t, failed)

	wrec := newRecorder()
	require.NoError(t, b.Write([]byte("HELLO"), nil, wrec))

	select {
	case got := <-payload:
		assert.Equal(t, "HELLO", got)
	case <-time.After(3 * time.Second):
		t.Fatal("readable signal or payload never arrived")
	}
	rec.mu.Lock()
	require.GreaterOrEqual(t, len(rec.completions), 1)
	assert.Equal(t, Readable, rec.completions[0])
	rec.mu.Unlock()
}

func TestLowMemoryPreconditions(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, _ := socketpairChannels(t, g)

	// 未开启低内存模式时 nil 缓冲非法
	err := a.Read(nil, nil, newRecorder())
	require.ErrorIs(t, err, ErrNoBuffer)

	cfg := DefaultConfig()
	cfg.LowMemory = true
	g2 := newTestGroup(t, cfg)
	c, _ := socketpairChannels(t, g2)

	// future 调用方必须自带缓冲
	f := c.ReadFuture(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.Get(ctx)
	require.ErrorIs(t, err, ErrNoBuffer)
}

func TestUnsupportedOperations(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, _ := socketpairChannels(t, g)

	assert.ErrorIs(t, a.Readv([][]byte{make([]byte, 4)}, nil, newRecorder()), ErrUnsupported)
	assert.ErrorIs(t, a.Writev([][]byte{make([]byte, 4)}, nil, newRecorder()), ErrUnsupported)
	assert.ErrorIs(t, a.ReadWithTimeout(make([]byte, 4), time.Second, nil, newRecorder()), ErrTimeoutUnsupported)
	assert.ErrorIs(t, a.WriteWithTimeout([]byte("x"), time.Second, nil, newRecorder()), ErrTimeoutUnsupported)

	// 服务端接入的通道永远不是连接发起方
	assert.ErrorIs(t, a.Connect("127.0.0.1:9", nil, connectRecorder()), ErrAlreadyConnected)

	srv, err := g.OpenServerChannel()
	require.NoError(t, err)
	defer srv.Close()
	assert.ErrorIs(t, srv.Connect("127.0.0.1:9", nil, connectRecorder()), ErrUnsupported)
}

// 关闭排空与在途失败同时裁决同一描述符时，完成恰好投递一次。
func TestCloseRacingFailureSingleDelivery(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, _ := socketpairChannels(t, g)

	rrec := newRecorder()
	rop := &readOp{buf: make([]byte, 8), handler: rrec}
	require.True(t, a.readOp.CompareAndSwap(nil, rop))
	wrec := newRecorder()
	wop := &writeOp{buf: []byte("x"), handler: wrec}
	require.True(t, a.writeOp.CompareAndSwap(nil, wop))

	require.NoError(t, a.Close())

	// 重放 worker 侧此刻仍持有旧描述符的失败路径：描述符已被排空，
	// 输掉 CAS 的一侧不得再投递
	a.failRead(rop, unix.EBADF)
	a.failWrite(wop, unix.EBADF)

	done, failed := rrec.counts()
	assert.Zero(t, done)
	require.Equal(t, 1, failed)
	rrec.mu.Lock()
	assert.ErrorIs(t, rrec.failures[0], ErrClosed)
	rrec.mu.Unlock()

	done, failed = wrec.counts()
	assert.Zero(t, done)
	require.Equal(t, 1, failed)
	wrec.mu.Lock()
	assert.ErrorIs(t, wrec.failures[0], ErrClosed)
	wrec.mu.Unlock()
}

// 完成回调通知另一 goroutine 链发下一次读：双方不得同时驱动，
// 每次提交恰好一次完成投递。
func TestCrossGoroutineChainedRead(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())
	a, b := socketpairChannels(t, g)

	const rounds = 50
	results := make(chan int, rounds)
	next := make(chan struct{}, rounds)
	buf := make([]byte, 1)
	rec := newRecorder()
	rec.onComplete = func(n int) {
		results <- n
		next <- struct{}{}
	}

	go func() {
		for i := 0; i < rounds; i++ {
			for {
				if _, err := unix.Write(b.fd, []byte("x")); err != unix.EAGAIN {
					break
				}
			}
		}
	}()

	require.NoError(t, a.Read(buf, nil, rec))
	for i := 0; i < rounds; i++ {
		select {
		case n := <-results:
			require.Equal(t, 1, n)
		case <-time.After(3 * time.Second):
			t.Fatalf("round %d never completed", i)
		}
		if i < rounds-1 {
			<-next
			// 完成侧可能仍处在回调窗口内，这里从另一 goroutine 链发
			require.NoError(t, a.Read(buf, nil, rec))
		}
	}
	time.Sleep(50 * time.Millisecond)
	done, failed := rec.counts()
	assert.Equal(t, rounds, done)
	assert.Zero(t, failed)
}

// 被拒绝的连接必须投递真实 errno，而非多路复用器的笼统错误。
func TestConnectRefusedErrno(t *testing.T) {
	g := newTestGroup(t, DefaultConfig())

	// 先监听拿到端口再关闭，保证该端口必然拒绝连接
	lfd, err := netutil.OpenListener("tcp", "127.0.0.1:0", false, 1)
	require.NoError(t, err)
	addr, err := netutil.LocalAddr(lfd)
	require.NoError(t, err)
	require.NoError(t, netutil.Close(lfd))

	cli, err := g.OpenSocketChannel()
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = cli.ConnectFuture(addr.String()).Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
}

// completionFunc 以函数字面量充当完成回调。
type completionFunc[V any] struct {
	completed func(V, any)
	failed    func(error, any)
}

func (f completionFunc[V]) Completed(v V, att any) { f.completed(v, att) }
func (f completionFunc[V]) Failed(err error, att any) {
	if f.failed != nil {
		f.failed(err, att)
	}
}

func connectRecorder() CompletionHandler[struct{}] {
	return completionFunc[struct{}]{completed: func(struct{}, any) {}}
}
