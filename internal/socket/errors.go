package socket

import "errors"

// 定义错误
var (
	// ErrNoTransport 表示Accept没有拿到协商完成的传输，属于致命的装配错误
	ErrNoTransport = errors.New("socket: no negotiated transport")

	// ErrConnClosed 表示连接已进入关闭流程，之后提交的写操作快速失败
	ErrConnClosed = errors.New("socket: connection closed")

	// ErrMessageTooLarge 表示入站消息超出接收缓冲区容量
	ErrMessageTooLarge = errors.New("socket: inbound message exceeds receive buffer")
)
