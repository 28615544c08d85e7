package stream

import (
	"errors"
	"sync"
)

var errBroadcasterStopped = errors.New("broadcaster is stopped")

// Broadcaster fans a value out to every subscriber. Subscriber channels hold a
// single element; a slow subscriber only ever sees the latest value.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[chan T]struct{}
	stopped     bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subscribers: make(map[chan T]struct{})}
}

// Subscribe registers a new subscriber. The returned channel is closed by Stop or Unsubscribe.
func (b *Broadcaster[T]) Subscribe() (chan T, error) {
	ch := make(chan T, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, errBroadcasterStopped
	}
	b.subscribers[ch] = struct{}{}
	return ch, nil
}

func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Publish delivers msg without blocking. When a subscriber's buffer is full
// the stale value is dropped in favour of msg.
func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	for s := range b.subscribers {
		select {
		case s <- msg:
		default:
			select {
			case <-s:
			default:
			}
			s <- msg
		}
	}
}

// Stop closes every subscriber channel. Further Subscribe calls fail.
func (b *Broadcaster[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for s := range b.subscribers {
		close(s)
		delete(b.subscribers, s)
	}
}
