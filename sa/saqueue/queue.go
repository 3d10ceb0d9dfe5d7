// Package saqueue provides the bounded message queues
// that connect the consensus engine to the network.
package saqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// ErrClosed is returned from [*Queue.Recv] after the queue is closed
// and every buffered message has been received.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded, multi-producer, multi-consumer queue of messages.
//
// Sends never block: when the queue is full the message is dropped.
// Consensus messages are gossiped redundantly,
// so a dropped message is recovered from another peer.
type Queue struct {
	ch chan saconsensus.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a queue with room for size messages.
func New(size int) *Queue {
	return &Queue{
		ch:     make(chan saconsensus.Message, size),
		closed: make(chan struct{}),
	}
}

// TrySend enqueues m without blocking
// and reports whether it was accepted.
func (q *Queue) TrySend(m saconsensus.Message) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.ch <- m:
		return true
	default:
		return false
	}
}

// Send enqueues m, blocking until there is room, the queue closes, or ctx is done.
func (q *Queue) Send(ctx context.Context, m saconsensus.Message) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-q.closed:
		return ErrClosed
	case q.ch <- m:
		return nil
	}
}

// Recv blocks until a message is available, ctx is done, or the queue is closed and drained.
func (q *Queue) Recv(ctx context.Context) (saconsensus.Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	default:
	}

	select {
	case <-ctx.Done():
		return saconsensus.Message{}, context.Cause(ctx)
	case m := <-q.ch:
		return m, nil
	case <-q.closed:
		// Prefer anything still buffered.
		select {
		case m := <-q.ch:
			return m, nil
		default:
			return saconsensus.Message{}, ErrClosed
		}
	}
}

// C exposes the receive side of the queue for use in select statements.
func (q *Queue) C() <-chan saconsensus.Message {
	return q.ch
}

// Closed is closed once [*Queue.Close] has been called.
func (q *Queue) Closed() <-chan struct{} {
	return q.closed
}

// Close stops the queue from accepting new messages.
// Buffered messages remain receivable.
// Close is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
