package socket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxMessageSize 接收缓冲区的默认容量（字节）
const DefaultMaxMessageSize = 64 << 10

// Config 单条连接的配置选项
type Config struct {
	MaxMessageSize int           `mapstructure:"max_message_size" json:"max_message_size"` // 接收缓冲区容量，构造后固定
	ReadTimeout    time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// DefaultConfig 返回默认的连接配置
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   3 * time.Minute,
	}
}

// Options Accept时的连接参数
type Options struct {
	ID        string            // 为空时自动生成
	Arguments map[string]string // 外部路由提供的路径参数，构造后只读
	Handler   Handler           // nil表示全部钩子空操作
	Config    Config
}

// Conn 一条WebSocket连接：独占传输句柄、固定接收缓冲区、
// 发送队列和取消上下文。接收循环与发送队列各自内部串行，
// 互相之间并发运行，连接之间没有任何共享可变状态。
type Conn struct {
	id        string
	transport Transport
	args      map[string]string
	handler   Handler
	queue     *SendQueue
	buf       []byte
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closeFut *Future
	err      error

	closed sync.Once
}

// Accept 接管一条协商完成的传输连接。
// 打开钩子在接收循环的首次读之前同步触发。
// transport为nil属于致命的装配错误，任何钩子都不会触发。
func Accept(ctx context.Context, t Transport, opts Options) (*Conn, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if opts.Handler == nil {
		opts.Handler = HandlerFuncs{}
	}
	if opts.Config.MaxMessageSize <= 0 {
		opts.Config.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		id:        opts.ID,
		transport: t,
		args:      opts.Arguments,
		handler:   opts.Handler,
		queue:     NewSendQueue(),
		buf:       make([]byte, opts.Config.MaxMessageSize),
		cfg:       opts.Config,
		ctx:       connCtx,
		cancel:    cancel,
	}

	c.handler.OnOpen(c)
	go c.readLoop()

	slog.Debug("connection accepted", "id", c.id)
	return c, nil
}

// ID 返回连接标识
func (c *Conn) ID() string {
	return c.id
}

// Context 返回连接的取消上下文，进入关闭流程时触发取消
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Argument 返回外部路由提取的单个路径参数
func (c *Conn) Argument(key string) string {
	return c.args[key]
}

// Arguments 返回路径参数表。参数表构造后不再变化，调用方不得修改。
func (c *Conn) Arguments() map[string]string {
	return c.args
}

// Err 返回导致连接终止的错误，正常关闭时为nil
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send 提交一次写操作。写操作严格按提交顺序逐个执行，绝不重叠。
func (c *Conn) Send(data []byte, kind MessageKind, endOfMessage bool) *Future {
	// 发送没有超时也没有取消：一旦提交就执行到完成或失败
	return c.queue.Enqueue(context.Background(), func(ctx context.Context) error {
		err := c.transport.Send(ctx, data, kind, endOfMessage)
		if err != nil {
			c.queue.Fail(fmt.Errorf("socket: transport send: %w", err))
		}
		return err
	})
}

// SendText 提交一次文本写
func (c *Conn) SendText(data []byte, endOfMessage bool) *Future {
	return c.Send(data, KindText, endOfMessage)
}

// SendBinary 提交一次二进制写
func (c *Conn) SendBinary(data []byte, endOfMessage bool) *Future {
	return c.Send(data, KindBinary, endOfMessage)
}

// Close 发起本地关闭握手。
// 关闭帧排在所有已提交的写操作之后：先入队的发送先落盘，然后才关闭。
func (c *Conn) Close(status CloseStatus, reason string) *Future {
	return c.beginClose(status, reason)
}

// CloseConnection 与Close语义一致，保留"状态+描述"的叫法
func (c *Conn) CloseConnection(status CloseStatus, description string) *Future {
	return c.beginClose(status, description)
}

// beginClose 保证关闭握手只发起一次，后续调用复用同一个future。
// 关闭操作在发送队列上排队（即便队列已经失效也会执行），
// 完成传输关闭后先触发取消信号、再触发关闭钩子。
func (c *Conn) beginClose(status CloseStatus, reason string) *Future {
	c.mu.Lock()
	if c.closeFut != nil {
		f := c.closeFut
		c.mu.Unlock()
		return f
	}
	f := c.queue.enqueue(context.Background(), func(context.Context) error {
		err := c.transport.Close(status, reason)
		c.queue.Fail(ErrConnClosed)
		c.shutdown()
		return err
	}, true)
	c.closeFut = f
	c.mu.Unlock()
	return f
}

// closing 报告关闭握手是否已发起
func (c *Conn) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFut != nil
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// readLoop 接收循环：反复读入帧片段并累积到缓冲区，
// 观察到消息结束标记后把[0,offset)整体派发，缓冲区随即复用。
// 循环在观察到对端关闭信号或读失败时终止，之后驱动关闭握手。
func (c *Conn) readLoop() {
	offset := 0
	for {
		rcpt, err := c.transport.Receive(c.ctx, c.buf[offset:])
		if err != nil {
			if c.closing() {
				// 本地关闭进行中，挂起的读被解除是预期行为
				return
			}
			if c.ctx.Err() != nil {
				// 外部上下文被取消：仍然走完整的关闭握手，保证关闭钩子触发
				c.beginClose(StatusGoingAway, "context canceled").Err()
				return
			}
			c.setErr(fmt.Errorf("socket: transport receive: %w", err))
			slog.Error("receive failed", "id", c.id, "error", err)
			c.beginClose(StatusInternalError, "receive failure").Err()
			return
		}

		if rcpt.Close != nil {
			status := rcpt.Close.Status
			if status == StatusNoStatus || status == 0 {
				status = StatusNormalClosure
			}
			// 应答对端发起的关闭握手
			c.beginClose(status, rcpt.Close.Reason).Err()
			return
		}

		offset += rcpt.N

		if !rcpt.EndOfMessage {
			if offset == len(c.buf) {
				// 消息未结束但缓冲区已满：显式报错终止，绝不截断或越界
				c.setErr(ErrMessageTooLarge)
				slog.Error("inbound message overflow", "id", c.id, "capacity", len(c.buf))
				c.beginClose(StatusMessageTooBig, "message exceeds receive buffer").Err()
				return
			}
			continue
		}

		// 零长度消息静默丢弃，不触发钩子
		if offset > 0 {
			c.handler.OnMessage(c, c.buf[:offset], rcpt.Kind)
		}
		offset = 0
	}
}

// shutdown 先触发取消信号解除挂起中的读，再触发关闭钩子。
// 无论哪一侧发起关闭，整体只执行一次。
func (c *Conn) shutdown() {
	c.closed.Do(func() {
		c.cancel()
		c.handler.OnClose(c)
		slog.Info("connection closed", "id", c.id)
	})
}
