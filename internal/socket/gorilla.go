package socket

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// closeWriteWait 关闭帧写出的最长等待时间
const closeWriteWait = 5 * time.Second

// GorillaTransport 把gorilla/websocket连接适配成帧级Transport。
// 读与写的串行化由上层保证，这里只维护当前消息的读写游标。
type GorillaTransport struct {
	conn *websocket.Conn
	cfg  Config

	reader   io.Reader // 当前入站消息的剩余部分
	readKind MessageKind

	// 预读时多取的一个字节，下次Receive先行交付
	pending    byte
	hasPending bool

	writer io.WriteCloser // 当前尚未写完的出站消息
}

// NewGorillaTransport 创建gorilla适配器
func NewGorillaTransport(conn *websocket.Conn, cfg Config) *GorillaTransport {
	return &GorillaTransport{conn: conn, cfg: cfg}
}

// 确保GorillaTransport实现了Transport接口
var _ Transport = (*GorillaTransport)(nil)

// Receive 读取当前消息的下一个片段到buf。
// 对端的关闭帧通过Receipt.Close上报，不作为错误返回。
// ctx的取消本身不中断底层阻塞读，解除阻塞依靠Close关闭底层连接。
func (g *GorillaTransport) Receive(ctx context.Context, buf []byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if g.cfg.ReadTimeout > 0 {
		_ = g.conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	}

	for {
		if g.reader == nil {
			msgType, r, err := g.conn.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					return Receipt{Close: &CloseInfo{Status: CloseStatus(ce.Code), Reason: ce.Text}}, nil
				}
				return Receipt{}, err
			}
			g.reader = r
			g.readKind = MessageKind(msgType)
		}

		n := 0
		if g.hasPending && len(buf) > 0 {
			buf[0] = g.pending
			g.hasPending = false
			n = 1
		}

		m, err := g.reader.Read(buf[n:])
		n += m
		switch {
		case err == io.EOF:
			g.reader = nil
			return Receipt{N: n, EndOfMessage: true, Kind: g.readKind}, nil
		case err != nil:
			g.reader = nil
			return Receipt{}, err
		case n > 0 && n == len(buf):
			// buf被完全填满：gorilla要到下一次读才报告io.EOF，
			// 这里预读一个字节区分消息结束与后续片段
			end, perr := g.probeEnd()
			if perr != nil {
				g.reader = nil
				return Receipt{}, perr
			}
			if end {
				g.reader = nil
			}
			return Receipt{N: n, EndOfMessage: end, Kind: g.readKind}, nil
		case n > 0:
			return Receipt{N: n, EndOfMessage: false, Kind: g.readKind}, nil
		}
		// n==0且无错误：继续读同一条消息
	}
}

// probeEnd 向前多读一个字节判断当前消息是否已经结束。
// 读到数据时暂存到pending，待下次Receive交付。
func (g *GorillaTransport) probeEnd() (bool, error) {
	var scratch [1]byte
	for {
		m, err := g.reader.Read(scratch[:])
		if m > 0 {
			g.pending = scratch[0]
			g.hasPending = true
			return false, nil
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// Send 写出一个消息片段。endOfMessage为false时writer保持打开，
// 等待同一消息的后续片段。
func (g *GorillaTransport) Send(ctx context.Context, data []byte, kind MessageKind, endOfMessage bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.cfg.WriteTimeout > 0 {
		_ = g.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	}

	if g.writer == nil {
		w, err := g.conn.NextWriter(int(kind))
		if err != nil {
			return err
		}
		g.writer = w
	}

	if _, err := g.writer.Write(data); err != nil {
		g.writer = nil
		return err
	}
	if endOfMessage {
		err := g.writer.Close()
		g.writer = nil
		return err
	}
	return nil
}

// Close 发出关闭帧并关闭底层连接，同时解除挂起中的读
func (g *GorillaTransport) Close(status CloseStatus, reason string) error {
	msg := websocket.FormatCloseMessage(int(status), reason)
	err := g.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	if cerr := g.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
