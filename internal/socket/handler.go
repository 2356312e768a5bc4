package socket

// Handler 连接的生命周期钩子，全部可选实现。
// OnMessage拿到的data只在本次调用期间有效，底层缓冲区随后会被复用，
// 需要保留内容时必须自行拷贝。
type Handler interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, data []byte, kind MessageKind)
	OnClose(c *Conn)
}

// HandlerFuncs 用函数字段实现Handler，nil字段等价于空操作
type HandlerFuncs struct {
	Open    func(c *Conn)
	Message func(c *Conn, data []byte, kind MessageKind)
	Close   func(c *Conn)
}

func (h HandlerFuncs) OnOpen(c *Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, data []byte, kind MessageKind) {
	if h.Message != nil {
		h.Message(c, data, kind)
	}
}

func (h HandlerFuncs) OnClose(c *Conn) {
	if h.Close != nil {
		h.Close(c)
	}
}

// 确保HandlerFuncs实现了Handler接口
var _ Handler = HandlerFuncs{}
