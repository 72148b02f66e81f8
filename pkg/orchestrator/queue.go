package orchestrator

import "sync"

// serialQueue is an unbounded FIFO drained by a single consumer goroutine.
// Producers never block. After close the consumer drains what is left and
// exits; later pushes are rejected.
type serialQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newSerialQueue[T any]() *serialQueue[T] {
	return &serialQueue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends v. It returns false if the queue is closed.
func (q *serialQueue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.wake()
	return true
}

func (q *serialQueue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *serialQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *serialQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// run consumes items in order until the queue is closed and empty.
func (q *serialQueue[T]) run(consume func(T)) {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		consume(item)
	}
}
