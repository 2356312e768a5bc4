// Package noop 提供一个空操作的消息总线实现
package noop

import (
	"context"
	"sync"

	"wspump/internal/bus"
)

// NoopBus 是一个空操作的消息总线实现，直接丢弃消息。
// 适用于单节点模式，不需要跨节点通信。
type NoopBus struct {
	closed bool
	mu     sync.Mutex
}

// New 创建一个新的NoopBus实例
func New() *NoopBus {
	return &NoopBus{}
}

// Publish 实现MessageBus.Publish，直接丢弃消息
func (n *NoopBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe。
// 返回的channel永远不会有消息；ctx取消时channel关闭，
// 避免接收方在遍历channel时立即结束。
func (n *NoopBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Unsubscribe 实现MessageBus.Unsubscribe，不做任何操作
func (n *NoopBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

// Close 实现MessageBus.Close，标记为已关闭
func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	return nil
}

// 确保NoopBus实现了MessageBus接口
var _ bus.MessageBus = (*NoopBus)(nil)
