// Package bus 提供节点间消息传递机制
package bus

import (
	"context"
	"errors"
)

// 定义错误类型
var (
	ErrTopicEmpty    = errors.New("topic cannot be empty")
	ErrBusClosed     = errors.New("message bus is closed")
	ErrPublishFailed = errors.New("publish message failed")
)

// MessageBus 在节点间传播消息。
// 每次Subscribe返回独立的接收channel，生命周期跟随传入的ctx，
// ctx取消后channel关闭。
type MessageBus interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe 订阅指定主题，返回接收channel
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Unsubscribe 取消指定主题的全部订阅
	Unsubscribe(topic string) error

	Close() error
}

// RoomTopicPrefix 房间消息的主题前缀
const RoomTopicPrefix = "room/"

// FormatRoomTopic 格式化房间主题
func FormatRoomTopic(room string) string {
	return RoomTopicPrefix + room
}
