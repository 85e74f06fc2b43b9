package aio

// CompletionHandler 为一次异步操作的完成回调。
// 成功与失败二选一，且对同一操作恰好调用一次。
// 回调可能在发起方 goroutine（直接完成）或 worker goroutine（就绪后完成）上执行。
type CompletionHandler[V any] interface {
	Completed(result V, attachment any)
	Failed(err error, attachment any)
}

// 读完成结果的约定值。
const (
	// EOF 表示对端已关闭写方向，本通道读到流末尾。
	EOF = -1

	// Readable 为低内存模式的就绪信号：已有数据可读但尚未分配缓冲，
	// 调用方应在回调内按需分配缓冲后再次发起读。
	Readable = -2
)
