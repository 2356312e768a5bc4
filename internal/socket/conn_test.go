package socket

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeFrame 脚本化的入站事件：数据帧、关闭信号或读错误
type fakeFrame struct {
	data  []byte
	end   bool
	kind  MessageKind
	close *CloseInfo
	err   error
}

type fakeSend struct {
	data []byte
	kind MessageKind
	end  bool
}

// fakeTransport 用于测试的传输模拟。
// 入站帧通过frames通道投递；缓冲区装不下的帧会拆分成多次读取，
// 和真实传输的帧级读取行为一致。
type fakeTransport struct {
	frames  chan fakeFrame
	pending *fakeFrame

	mu     sync.Mutex
	sends  []fakeSend
	closes []CloseInfo
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan fakeFrame, 16)}
}

func (f *fakeTransport) Receive(ctx context.Context, buf []byte) (Receipt, error) {
	fr := f.pending
	f.pending = nil
	if fr == nil {
		select {
		case got, ok := <-f.frames:
			if !ok {
				<-ctx.Done()
				return Receipt{}, ctx.Err()
			}
			fr = &got
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}

	if fr.err != nil {
		return Receipt{}, fr.err
	}
	if fr.close != nil {
		return Receipt{Close: fr.close}, nil
	}

	n := copy(buf, fr.data)
	if n < len(fr.data) {
		rest := *fr
		rest.data = fr.data[n:]
		f.pending = &rest
		return Receipt{N: n, EndOfMessage: false, Kind: fr.kind}, nil
	}
	return Receipt{N: n, EndOfMessage: fr.end, Kind: fr.kind}, nil
}

func (f *fakeTransport) Send(_ context.Context, data []byte, kind MessageKind, end bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sends = append(f.sends, fakeSend{data: cp, kind: kind, end: end})
	return nil
}

func (f *fakeTransport) Close(status CloseStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, CloseInfo{Status: status, Reason: reason})
	return nil
}

func (f *fakeTransport) sentFrames() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeSend, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *fakeTransport) closeCalls() []CloseInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CloseInfo, len(f.closes))
	copy(out, f.closes)
	return out
}

// recorder 记录钩子触发顺序的Handler
type recorder struct {
	mu       sync.Mutex
	events   []string
	messages [][]byte
	kinds    []MessageKind
	closedCh chan struct{}
	once     sync.Once
}

func newRecorder() *recorder {
	return &recorder{closedCh: make(chan struct{})}
}

func (r *recorder) OnOpen(*Conn) {
	r.mu.Lock()
	r.events = append(r.events, "open")
	r.mu.Unlock()
}

func (r *recorder) OnMessage(_ *Conn, data []byte, kind MessageKind) {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.mu.Lock()
	r.events = append(r.events, "message")
	r.messages = append(r.messages, cp)
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func (r *recorder) OnClose(*Conn) {
	r.mu.Lock()
	r.events = append(r.events, "close")
	r.mu.Unlock()
	r.once.Do(func() { close(r.closedCh) })
}

func (r *recorder) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-r.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("等待关闭钩子超时")
	}
}

func (r *recorder) snapshot() ([]string, [][]byte, []MessageKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]string, len(r.events))
	copy(events, r.events)
	return events, r.messages, r.kinds
}

// TestAcceptNilTransport 缺少协商完成的传输属于致命装配错误，不触发任何钩子
func TestAcceptNilTransport(t *testing.T) {
	rec := newRecorder()
	_, err := Accept(context.Background(), nil, Options{Handler: rec})
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("期望ErrNoTransport，实际: %v", err)
	}
	events, _, _ := rec.snapshot()
	if len(events) != 0 {
		t.Fatalf("装配失败不应触发钩子，实际触发: %v", events)
	}
}

// TestOpenHookBeforeFirstRead 打开钩子在Accept返回前同步触发
func TestOpenHookBeforeFirstRead(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	c, err := Accept(context.Background(), ft, Options{ID: "c1", Handler: rec,
		Arguments: map[string]string{"room": "lobby"}})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	events, _, _ := rec.snapshot()
	if len(events) != 1 || events[0] != "open" {
		t.Fatalf("Accept返回时打开钩子应已触发且仅触发一次，实际: %v", events)
	}
	if got := c.Argument("room"); got != "lobby" {
		t.Errorf("路径参数room应为lobby，实际: %s", got)
	}

	c.Close(StatusNormalClosure, "").Err()
	rec.waitClosed(t)
}

// TestFragmentReassembly 三个分片He/ll/o重组为Hello，恰好派发一次
func TestFragmentReassembly(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	ft.frames <- fakeFrame{data: []byte("He"), kind: KindText}
	ft.frames <- fakeFrame{data: []byte("ll"), kind: KindText}
	ft.frames <- fakeFrame{data: []byte("o"), kind: KindText, end: true}
	ft.frames <- fakeFrame{close: &CloseInfo{Status: StatusNormalClosure}}

	_, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	_, messages, kinds := rec.snapshot()
	if len(messages) != 1 {
		t.Fatalf("消息钩子应恰好触发一次，实际 %d 次", len(messages))
	}
	if !bytes.Equal(messages[0], []byte("Hello")) {
		t.Errorf("重组结果应为Hello，实际: %q", messages[0])
	}
	if kinds[0] != KindText {
		t.Errorf("消息类型应为文本，实际: %d", kinds[0])
	}
}

// TestEmptyMessageDropped 零长度消息静默丢弃，循环继续运行
func TestEmptyMessageDropped(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	ft.frames <- fakeFrame{data: nil, kind: KindText, end: true}
	ft.frames <- fakeFrame{data: []byte("after"), kind: KindText, end: true}
	ft.frames <- fakeFrame{close: &CloseInfo{Status: StatusNormalClosure}}

	_, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	_, messages, _ := rec.snapshot()
	if len(messages) != 1 {
		t.Fatalf("零长度消息不应派发，期望收到1条消息，实际 %d 条", len(messages))
	}
	if !bytes.Equal(messages[0], []byte("after")) {
		t.Errorf("期望收到after，实际: %q", messages[0])
	}
}

// TestHookOrdering 打开钩子先于首条消息派发，关闭钩子最后且仅一次
func TestHookOrdering(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	ft.frames <- fakeFrame{data: []byte("hi"), kind: KindBinary, end: true}
	ft.frames <- fakeFrame{close: &CloseInfo{Status: StatusGoingAway, Reason: "bye"}}

	_, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	events, _, _ := rec.snapshot()
	want := []string{"open", "message", "close"}
	if len(events) != len(want) {
		t.Fatalf("期望事件序列 %v，实际: %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("期望事件序列 %v，实际: %v", want, events)
		}
	}
}

// TestPeerCloseAcknowledged 对端发起关闭时应答所观察到的状态码
func TestPeerCloseAcknowledged(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	ft.frames <- fakeFrame{close: &CloseInfo{Status: StatusGoingAway, Reason: "shutting down"}}

	c, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	closes := ft.closeCalls()
	if len(closes) != 1 {
		t.Fatalf("传输关闭应恰好调用一次，实际 %d 次", len(closes))
	}
	if closes[0].Status != StatusGoingAway {
		t.Errorf("应答状态码应为 %d，实际 %d", StatusGoingAway, closes[0].Status)
	}

	select {
	case <-c.Context().Done():
	default:
		t.Error("关闭钩子触发后取消信号应已触发")
	}
}

// TestLocalCloseOnce 本地关闭恰好触发一次关闭钩子，重复Close复用同一future
func TestLocalCloseOnce(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	c, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	f1 := c.Close(StatusNormalClosure, "done")
	f2 := c.CloseConnection(StatusNormalClosure, "done again")
	if f1 != f2 {
		t.Error("重复关闭应复用同一个future")
	}
	if err := f1.Err(); err != nil {
		t.Fatalf("关闭不应失败: %v", err)
	}
	rec.waitClosed(t)

	events, _, _ := rec.snapshot()
	closeCount := 0
	for _, e := range events {
		if e == "close" {
			closeCount++
		}
	}
	if closeCount != 1 {
		t.Fatalf("关闭钩子应恰好触发一次，实际 %d 次", closeCount)
	}
	if len(ft.closeCalls()) != 1 {
		t.Fatalf("传输关闭应恰好调用一次，实际 %d 次", len(ft.closeCalls()))
	}
	if c.Err() != nil {
		t.Errorf("正常关闭不应留下错误: %v", c.Err())
	}
}

// TestSendOrderingAcrossCallers 三个调用方按A/BC/D的顺序提交，
// 传输必须恰好观察到三次写且顺序与标记完全一致
func TestSendOrderingAcrossCallers(t *testing.T) {
	ft := newFakeTransport()
	c, err := Accept(context.Background(), ft, Options{})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	// 用信号串出精确的调用顺序，执行线程则各不相同
	step1 := make(chan *Future)
	step2 := make(chan *Future)
	step3 := make(chan *Future)

	go func() { step1 <- c.SendText([]byte("A"), false) }()
	f1 := <-step1
	go func() { step2 <- c.SendText([]byte("BC"), false) }()
	f2 := <-step2
	go func() { step3 <- c.SendText([]byte("D"), true) }()
	f3 := <-step3

	for i, f := range []*Future{f1, f2, f3} {
		if err := f.Err(); err != nil {
			t.Fatalf("发送 %d 不应失败: %v", i+1, err)
		}
	}

	sends := ft.sentFrames()
	if len(sends) != 3 {
		t.Fatalf("传输应恰好观察到3次写，实际 %d 次", len(sends))
	}
	wantData := []string{"A", "BC", "D"}
	wantEnd := []bool{false, false, true}
	for i, s := range sends {
		if string(s.data) != wantData[i] || s.end != wantEnd[i] {
			t.Errorf("第 %d 次写期望 (%q, end=%v)，实际 (%q, end=%v)",
				i+1, wantData[i], wantEnd[i], s.data, s.end)
		}
	}

	c.Close(StatusNormalClosure, "").Err()
}

// TestOverflowTerminatesConnection 超出缓冲区容量的消息以显式错误终止连接
func TestOverflowTerminatesConnection(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()

	// 容量8字节，投递10字节的消息
	ft.frames <- fakeFrame{data: []byte("0123456789"), kind: KindBinary, end: true}

	c, err := Accept(context.Background(), ft, Options{
		Handler: rec,
		Config:  Config{MaxMessageSize: 8},
	})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	if !errors.Is(c.Err(), ErrMessageTooLarge) {
		t.Fatalf("期望ErrMessageTooLarge，实际: %v", c.Err())
	}
	_, messages, _ := rec.snapshot()
	if len(messages) != 0 {
		t.Fatalf("溢出的消息绝不应派发，实际派发 %d 条", len(messages))
	}
	closes := ft.closeCalls()
	if len(closes) != 1 || closes[0].Status != StatusMessageTooBig {
		t.Fatalf("应以状态码 %d 关闭，实际: %+v", StatusMessageTooBig, closes)
	}
}

// TestSendAfterCloseFailsFast 关闭后提交的发送快速失败
func TestSendAfterCloseFailsFast(t *testing.T) {
	ft := newFakeTransport()
	c, err := Accept(context.Background(), ft, Options{})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	if err := c.Close(StatusNormalClosure, "").Err(); err != nil {
		t.Fatalf("关闭不应失败: %v", err)
	}

	if err := c.SendText([]byte("late"), true).Err(); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("期望ErrConnClosed，实际: %v", err)
	}
	if len(ft.sentFrames()) != 0 {
		t.Fatal("关闭后的发送不应触碰传输")
	}
}

// TestQueuedSendsDrainBeforeClose 关闭帧排在已提交的发送之后
func TestQueuedSendsDrainBeforeClose(t *testing.T) {
	ft := newFakeTransport()
	c, err := Accept(context.Background(), ft, Options{})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	f1 := c.SendText([]byte("first"), true)
	f2 := c.SendBinary([]byte("second"), true)
	cf := c.Close(StatusNormalClosure, "drained")

	if err := cf.Err(); err != nil {
		t.Fatalf("关闭不应失败: %v", err)
	}
	if err := f1.Err(); err != nil {
		t.Fatalf("关闭前入队的发送应成功: %v", err)
	}
	if err := f2.Err(); err != nil {
		t.Fatalf("关闭前入队的发送应成功: %v", err)
	}

	sends := ft.sentFrames()
	if len(sends) != 2 {
		t.Fatalf("关闭前应写出2条消息，实际 %d 条", len(sends))
	}
	if sends[1].kind != KindBinary {
		t.Errorf("第二条消息类型应为二进制，实际: %d", sends[1].kind)
	}
	if len(ft.closeCalls()) != 1 {
		t.Fatalf("传输关闭应恰好调用一次，实际 %d 次", len(ft.closeCalls()))
	}
}

// TestReceiveFailureClosesConnection 读失败终止循环并尽力完成关闭
func TestReceiveFailureClosesConnection(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()
	readErr := errors.New("connection reset")

	ft.frames <- fakeFrame{err: readErr}

	c, err := Accept(context.Background(), ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}
	rec.waitClosed(t)

	if !errors.Is(c.Err(), readErr) {
		t.Fatalf("连接错误应包含读失败原因，实际: %v", c.Err())
	}
	closes := ft.closeCalls()
	if len(closes) != 1 || closes[0].Status != StatusInternalError {
		t.Fatalf("应以状态码 %d 尽力关闭，实际: %+v", StatusInternalError, closes)
	}
}

// TestParentContextCancelClosesConnection 外部上下文取消同样走完整的关闭握手：
// 发出关闭帧、触发关闭钩子，不允许静默退出留下悬挂的传输
func TestParentContextCancelClosesConnection(t *testing.T) {
	ft := newFakeTransport()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	c, err := Accept(ctx, ft, Options{Handler: rec})
	if err != nil {
		t.Fatalf("Accept失败: %v", err)
	}

	cancel()
	rec.waitClosed(t)

	closes := ft.closeCalls()
	if len(closes) != 1 {
		t.Fatalf("应发送一次关闭帧，实际 %d 次", len(closes))
	}
	if closes[0].Status != StatusGoingAway {
		t.Errorf("关闭状态应为 %d，实际 %d", StatusGoingAway, closes[0].Status)
	}

	events, _, _ := rec.snapshot()
	closeCount := 0
	for _, e := range events {
		if e == "close" {
			closeCount++
		}
	}
	if closeCount != 1 {
		t.Errorf("关闭钩子应恰好触发一次，实际 %d 次", closeCount)
	}

	select {
	case <-c.Context().Done():
	default:
		t.Error("连接上下文应已取消")
	}
}
