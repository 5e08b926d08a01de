package consumer

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/nsqwire/internal/conn"
)

var ErrQueueClosed = errors.New("consumer: queue closed")

// Delivery is one item of the consumer stream: a message or an error
// reported by a connection.
type Delivery struct {
	Message *conn.Message
	Err     error
}

// Queue is an unbounded multi-producer queue. Pushes never block, so read
// loops are not stalled by a slow consumer; RDY bounds how much piles up.
type Queue struct {
	mu     sync.Mutex
	items  []Delivery
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Close wakes blocked Pops. Items already queued can still be popped.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}

func (q *Queue) Push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an item is available, ctx is done, or the queue is
// closed and empty.
func (q *Queue) Pop(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = Delivery{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on to another waiting Pop
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-q.done:
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return Delivery{}, ErrQueueClosed
			}
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
