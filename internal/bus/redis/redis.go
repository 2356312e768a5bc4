// Package redis 提供基于Redis发布订阅的消息总线实现
package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wspump/internal/bus"

	"github.com/redis/go-redis/v9"
)

// Config Redis连接配置选项
type Config struct {
	// 连接地址 (单机模式、集群模式或哨兵模式)
	Addrs []string `mapstructure:"addrs"`

	// 密码，如果需要的话
	Password string `mapstructure:"password"`

	// 数据库编号 (仅单机模式和哨兵模式有效)
	DB int `mapstructure:"db"`

	// 哨兵模式的主节点名称
	MasterName string `mapstructure:"master_name"`

	// 连接池大小
	PoolSize int `mapstructure:"pool_size"`

	// 连接超时时间
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// 重新订阅的等待间隔
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// 消息总线操作超时（发布超时）
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// 键前缀
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addrs:         []string{"localhost:6379"},
		DB:            0,
		PoolSize:      10,
		DialTimeout:   5 * time.Second,
		RetryInterval: 200 * time.Millisecond,
		OpTimeout:     500 * time.Millisecond,
		KeyPrefix:     "wspump:",
	}
}

// RedisBus 基于Redis的消息总线实现
type RedisBus struct {
	client redis.UniversalClient // 通用客户端接口，兼容单机、哨兵和集群模式
	cfg    Config

	mu     sync.Mutex
	closed bool
	subs   map[string][]context.CancelFunc // 每个主题的活跃订阅取消函数
}

// New 创建一个新的RedisBus实例并验证连通性
func New(cfg Config) (*RedisBus, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MasterName:  cfg.MasterName,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	slog.Info("connected to redis", "addrs", cfg.Addrs)
	return &RedisBus{
		client: client,
		cfg:    cfg,
		subs:   make(map[string][]context.CancelFunc),
	}, nil
}

// formatKey 为主题加上键前缀
func (r *RedisBus) formatKey(topic string) string {
	return r.cfg.KeyPrefix + topic
}

// Publish 实现MessageBus.Publish，通过Redis PUBLISH发布消息
func (r *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	if err := r.client.Publish(publishCtx, r.formatKey(topic), data).Err(); err != nil {
		slog.Error("redis publish failed", "topic", topic, "error", err)
		return bus.ErrPublishFailed
	}
	// 没有订阅者在PubSub模型中是正常情况，不视为错误
	return nil
}

// Subscribe 实现MessageBus.Subscribe。
// 每次调用创建独立的Redis订阅，订阅断开后自动重连，
// 直到ctx取消或总线关闭。
func (r *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	subCtx, cancel := context.WithCancel(ctx)
	r.subs[topic] = append(r.subs[topic], cancel)

	ch := make(chan []byte, 16)
	go r.subscribeRoutine(subCtx, r.formatKey(topic), ch)
	return ch, nil
}

// subscribeRoutine 维持一个Redis订阅，断开后按RetryInterval重连
func (r *RedisBus) subscribeRoutine(ctx context.Context, channel string, outCh chan<- []byte) {
	defer close(outCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pubsub := r.client.Subscribe(ctx, channel)

		func() {
			defer pubsub.Close()

			if _, err := pubsub.Receive(ctx); err != nil {
				slog.Error("failed to receive subscription confirmation", "channel", channel, "error", err)
				return
			}

			// ctx取消时关闭pubsub，结束下面的遍历
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-ctx.Done():
					_ = pubsub.Close()
				case <-stop:
				}
			}()

			for msg := range pubsub.Channel() {
				select {
				case outCh <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.RetryInterval):
			slog.Info("redis subscription reconnecting", "channel", channel)
		}
	}
}

// Unsubscribe 实现MessageBus.Unsubscribe，取消该主题的全部订阅
func (r *RedisBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cancel := range r.subs[topic] {
		cancel()
	}
	delete(r.subs, topic)
	return nil
}

// Close 实现MessageBus.Close，取消全部订阅并断开客户端
func (r *RedisBus) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, cancels := range r.subs {
		for _, cancel := range cancels {
			cancel()
		}
	}
	r.subs = nil

	return r.client.Close()
}

// 确保RedisBus实现了MessageBus接口
var _ bus.MessageBus = (*RedisBus)(nil)
