package aio

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// gid 解析当前 goroutine id，仅用于测试中的执行归属断言。
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}

func newTestGroup(t *testing.T, cfg Config) *Group {
	t.Helper()
	g, err := NewGroup(cfg)
	require.NoError(t, err)
	t.Cleanup(g.Shutdown)
	return g
}

// socketpairChannels 用 AF_UNIX socketpair 构造一对已连接的通道。
func socketpairChannels(t *testing.T, g *Group) (*SocketChannel, *SocketChannel) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	a := newAcceptedChannel(fds[0], g)
	b := newAcceptedChannel(fds[1], g)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// recorder 记录完成与失败的顺序化处理器。
type recorder struct {
	mu          sync.Mutex
	completions []int
	failures    []error
	onComplete  func(n int)
	onFail      func(err error)
	signal      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 64)}
}

func (r *recorder) Completed(n int, _ any) {
	r.mu.Lock()
	r.completions = append(r.completions, n)
	cb := r.onComplete
	r.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	r.signal <- struct{}{}
}

func (r *recorder) Failed(err error, _ any) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	cb := r.onFail
	r.mu.Unlock()
	if cb != nil {
		cb(err)
	}
	r.signal <- struct{}{}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions), len(r.failures)
}
