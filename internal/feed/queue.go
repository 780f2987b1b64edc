package feed

import "sync"

// Queue is an unbounded FIFO whose values are delivered on a channel.
// The zero value is not usable; create one with New.
type Queue[T any] struct {
	mu      sync.Mutex
	backlog []T
	closed  bool

	// wake has capacity 1 so a Push never blocks on an idle pump.
	wake chan struct{}
	out  chan T

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Queue and starts its pump goroutine.
// The goroutine exits after Close once the backlog is drained to a consumer.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// C returns the channel values are delivered on. It is closed after Close
// once every value pushed before Close has been received.
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Push appends v to the queue. Values pushed after Close are dropped.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.backlog = append(q.backlog, v)
	q.mu.Unlock()
	q.signal()
}

// Close marks the end of the stream. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Stop ends the stream without delivering the backlog. Use it when the
// consumer has gone away; C is closed promptly.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.closed = true
	q.backlog = nil
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.done) })
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.done:
				return
			}
			continue
		}

		next := q.backlog[0]
		var zero T
		q.backlog[0] = zero
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}
