// Package nats 提供基于NATS的消息总线实现
package nats

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wspump/internal/bus"

	"github.com/nats-io/nats.go"
)

// Config NATS连接配置选项
type Config struct {
	// 连接地址，例如 nats://localhost:4222
	URLs []string `mapstructure:"urls"`

	// 连接名称，用于标识客户端
	Name string `mapstructure:"name"`

	// 重连等待时间
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`

	// 最大重连次数，-1表示无限重连
	MaxReconnects int `mapstructure:"max_reconnects"`

	// 连接超时
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "wspump-client",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // 无限重连
		ConnectTimeout: 5 * time.Second,
	}
}

// NatsBus 基于NATS的消息总线实现
type NatsBus struct {
	conn *nats.Conn
	cfg  Config

	mu     sync.Mutex
	closed bool
	subs   map[string][]*nats.Subscription
}

// New 创建一个新的NatsBus实例
func New(cfg Config) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	// 多个URL时NATS客户端会自动尝试连接其中任何一个
	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, err
	}

	slog.Info("connected to nats", "urls", cfg.URLs)
	return &NatsBus{
		conn: nc,
		cfg:  cfg,
		subs: make(map[string][]*nats.Subscription),
	}, nil
}

// Publish 实现MessageBus.Publish
func (n *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()

	if closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	if err := n.conn.Publish(formatSubject(topic), data); err != nil {
		slog.Error("nats publish failed", "topic", topic, "error", err)
		return bus.ErrPublishFailed
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe。
// 每次调用创建独立的NATS订阅，ctx取消时退订并关闭channel。
// 退订与关闭都由唯一的排水协程执行，避免回调向已关闭channel发送。
func (n *NatsBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	// 使用通道订阅，NATS会自动将消息发送到msgCh
	msgCh := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(formatSubject(topic), msgCh)
	if err != nil {
		return nil, err
	}
	n.subs[topic] = append(n.subs[topic], sub)

	outCh := make(chan []byte, 16)
	go func() {
		defer close(outCh)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				// 复制消息数据
				data := make([]byte, len(msg.Data))
				copy(data, msg.Data)

				select {
				case outCh <- data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}

// Unsubscribe 实现MessageBus.Unsubscribe，退订该主题的全部订阅
func (n *NatsBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs[topic] {
		_ = sub.Unsubscribe()
	}
	delete(n.subs, topic)
	return nil
}

// Close 实现MessageBus.Close，排空在途消息后断开连接
func (n *NatsBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// formatSubject NATS主题分隔符是点号，把路径风格的主题转换过去
func formatSubject(topic string) string {
	return "wspump." + strings.ReplaceAll(topic, "/", ".")
}

// 确保NatsBus实现了MessageBus接口
var _ bus.MessageBus = (*NatsBus)(nil)
