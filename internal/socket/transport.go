// Package socket 实现单条WebSocket连接的消息泵：
// 串行化并发提交的出站写、把入站分片重组为完整消息、
// 并驱动连接完成打开/接收/关闭的生命周期。
package socket

import "context"

// MessageKind 标识消息负载的类型，取值与RFC 6455的数据帧opcode对齐
type MessageKind int

const (
	KindText   MessageKind = 1 // 文本消息
	KindBinary MessageKind = 2 // 二进制消息
)

// CloseStatus WebSocket关闭状态码
type CloseStatus int

const (
	StatusNormalClosure CloseStatus = 1000
	StatusGoingAway     CloseStatus = 1001
	StatusProtocolError CloseStatus = 1002
	StatusNoStatus      CloseStatus = 1005
	StatusMessageTooBig CloseStatus = 1009
	StatusInternalError CloseStatus = 1011
)

// CloseInfo 关闭握手携带的状态码和原因描述
type CloseInfo struct {
	Status CloseStatus
	Reason string
}

// Receipt 描述一次帧级读取的结果。
// Close非nil表示本次读取观察到了对端的关闭信号，此时其余字段无效。
type Receipt struct {
	N            int
	EndOfMessage bool
	Kind         MessageKind
	Close        *CloseInfo
}

// Transport 是协商完成后的双工传输抽象。
// 连接独占持有Transport：任意时刻至多一个读和一个写在途，
// 串行化由调用方（接收循环与发送队列）保证。
type Transport interface {
	// Receive 读取下一个帧片段到buf
	Receive(ctx context.Context, buf []byte) (Receipt, error)

	// Send 写出一个帧片段，endOfMessage标记消息结束
	Send(ctx context.Context, data []byte, kind MessageKind, endOfMessage bool) error

	// Close 发出关闭帧并关闭底层连接
	Close(status CloseStatus, reason string) error
}
