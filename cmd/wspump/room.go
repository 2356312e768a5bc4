package main

import (
	"context"
	"log/slog"

	"wspump/internal/bus"
	"wspump/internal/metrics"
	"wspump/internal/socket"
)

// roomHandler 把一条连接接入一个房间：
// 入站消息发布到房间主题，主题上的消息转发给本连接。
// 订阅的生命周期跟随连接的取消上下文，连接关闭时自动退订。
type roomHandler struct {
	bus   bus.MessageBus
	topic string
}

func newRoomHandler(b bus.MessageBus, room string) *roomHandler {
	return &roomHandler{bus: b, topic: bus.FormatRoomTopic(room)}
}

func (h *roomHandler) OnOpen(c *socket.Conn) {
	ch, err := h.bus.Subscribe(c.Context(), h.topic)
	if err != nil {
		slog.Error("room subscribe failed", "topic", h.topic, "id", c.ID(), "error", err)
		c.Close(socket.StatusInternalError, "subscription failed")
		return
	}

	go func() {
		for data := range ch {
			c.SendText(data, true)
			metrics.MessageSent()
		}
	}()
}

func (h *roomHandler) OnMessage(c *socket.Conn, data []byte, kind socket.MessageKind) {
	// 缓冲区随后会被复用，发布前必须拷贝
	cp := make([]byte, len(data))
	copy(cp, data)

	if err := h.bus.Publish(context.Background(), h.topic, cp); err != nil {
		slog.Warn("room publish failed", "topic", h.topic, "id", c.ID(), "error", err)
	}
}

func (h *roomHandler) OnClose(c *socket.Conn) {
	slog.Debug("left room", "topic", h.topic, "id", c.ID())
}

var _ socket.Handler = (*roomHandler)(nil)
