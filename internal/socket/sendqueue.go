package socket

import (
	"context"
	"sync/atomic"
)

// SendQueue 把任意并发提交的写操作串行化为严格按提交顺序、
// 互不重叠的一串传输写。
//
// 实现方式是"原子交换队尾future"：每次Enqueue把队尾换成自己的future，
// 执行协程先等待前驱完成再运行本操作，最后完成自己的future。
// FIFO顺序和互斥由链式等待保证，热路径上没有锁。
type SendQueue struct {
	tail   atomic.Pointer[Future]
	broken atomic.Pointer[queueFailure]
}

type queueFailure struct {
	err error
}

// NewSendQueue ...
func NewSendQueue() *SendQueue {
	return &SendQueue{}
}

// Enqueue 提交一个写操作，返回该操作的完成future。
// 可以被任意数量的调用方并发调用。
// 单个操作失败只完成自己的future，不会阻断之后入队的操作；
// 只有传输本身失效（Fail）后，后续操作才不再执行、直接快速失败。
func (q *SendQueue) Enqueue(ctx context.Context, op func(context.Context) error) *Future {
	return q.enqueue(ctx, op, false)
}

func (q *SendQueue) enqueue(ctx context.Context, op func(context.Context) error, always bool) *Future {
	f := newFuture()
	prev := q.tail.Swap(f)

	go func() {
		if prev != nil {
			// 无论前驱成败，等它完成后才轮到自己
			<-prev.Done()
		}
		if !always {
			if fail := q.broken.Load(); fail != nil {
				f.complete(fail.err)
				return
			}
		}
		f.complete(op(ctx))
	}()

	return f
}

// Fail 标记传输已不可用：之后轮到执行的操作不再触碰传输，直接以err完成。
// 已经在途的操作不受影响。重复调用保留第一个错误。
func (q *SendQueue) Fail(err error) {
	q.broken.CompareAndSwap(nil, &queueFailure{err: err})
}
