package socket

import "context"

// Future 表示一次已提交写操作的完成信号，由提交方观察
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete 只能由队列的执行协程调用，且只调用一次
func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done 返回操作完成时关闭的channel
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err 阻塞到操作完成，返回操作的结果
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Wait 等待操作完成或ctx取消。ctx取消不会撤销已提交的操作本身。
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
