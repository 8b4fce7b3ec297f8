package poll

import "sync"

// Broadcaster is a one-to-many event stream: every subscriber receives the
// published values, in publication order, for as long as its buffer has
// room (see Publish). It generalizes the callback-list
// pattern this codebase already uses for leadership promote/demote hooks
// into a proper pub-sub primitive suitable for the poll engine's ticked
// event, where subscribers come and go over the poll's lifetime.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered; while a subscriber that
// falls behind has a full buffer, newly published notifications are dropped
// for it rather than stalling the publisher.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, 8)
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

func (b *Broadcaster[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every current subscriber. Slow subscribers whose
// buffer is full miss the notification rather than blocking the publisher —
// the ticked stream is a diagnostic feed, not a delivery guarantee.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close terminates every current subscription, closing each channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
