package aio

import "errors"

var (
	// ErrReadPending 已有读操作在途时再次发起读。
	ErrReadPending = errors.New("aio: read already pending")

	// ErrWritePending 已有写操作在途时再次发起写。
	ErrWritePending = errors.New("aio: write already pending")

	// ErrAcceptPending 已有 accept 在途时再次发起 accept。
	ErrAcceptPending = errors.New("aio: accept already pending")

	// ErrConnectPending 已有连接在途时再次发起连接。
	ErrConnectPending = errors.New("aio: connect already pending")

	// ErrShutdown 通道组已关停，新操作与在途操作均以此失败。
	ErrShutdown = errors.New("aio: channel group has been shutdown")

	// ErrClosed 通道已关闭。
	ErrClosed = errors.New("aio: channel closed")

	// ErrUnsupported 分散读/聚集写等不受支持的操作。
	ErrUnsupported = errors.New("aio: operation not supported")

	// ErrTimeoutUnsupported 非零读写超时不受支持（零超时退化为普通调用）。
	ErrTimeoutUnsupported = errors.New("aio: read/write timeout not supported")

	// ErrAlreadyConnected 通道已连接（服务端接入的通道永远视为已连接）。
	ErrAlreadyConnected = errors.New("aio: channel already connected")

	// ErrNotConnected 通道尚未连接。
	ErrNotConnected = errors.New("aio: channel not connected")

	// ErrNotBound 服务端通道尚未绑定。
	ErrNotBound = errors.New("aio: server channel not bound")

	// ErrAlreadyBound 服务端通道重复绑定。
	ErrAlreadyBound = errors.New("aio: server channel already bound")

	// ErrNoBuffer 缺少读缓冲：低内存模式未开启，或 future 调用方传入 nil 缓冲。
	ErrNoBuffer = errors.New("aio: nil read buffer")

	// ErrCancelled future 被取消。
	ErrCancelled = errors.New("aio: operation cancelled")

	// ErrInvalidArgument 参数非法。
	ErrInvalidArgument = errors.New("aio: invalid argument")
)
