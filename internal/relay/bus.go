package relay

import (
	"context"
	"errors"
	"sync"
)

// DefaultBusCapacity is the number of pages a subscriber may fall behind
// before it starts losing its oldest unread pages.
const DefaultBusCapacity = 128

var (
	ErrBusClosed     = errors.New("relay: bus closed")
	ErrNoSubscribers = errors.New("relay: no subscribers")
)

// Bus fans data pages out from a single producer to any number of
// subscribers. Pages live in a fixed ring indexed by sequence number; each
// subscriber keeps its own cursor, so a slow subscriber skips ahead instead of
// holding up the producer or the other subscribers.
type Bus struct {
	mu          sync.Mutex
	ring        [][]byte
	next        uint64 // sequence number of the next published page
	wake        chan struct{}
	subscribers int
	closed      bool
}

// NewBus creates a Bus retaining the last capacity pages.
func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		ring: make([][]byte, capacity),
		wake: make(chan struct{}),
	}
}

// Publish copies page into the ring and wakes waiting subscribers. It never
// blocks on a subscriber. ErrNoSubscribers is informational: the page is
// still recorded.
func (b *Bus) Publish(page []byte) error {
	cp := append([]byte(nil), page...)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.ring[b.next%uint64(len(b.ring))] = cp
	b.next++
	wake := b.wake
	b.wake = make(chan struct{})
	subscribers := b.subscribers
	b.mu.Unlock()

	close(wake)

	if subscribers == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// Subscribe returns a Subscription that observes every page published after
// this call.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	b.subscribers++
	return &Subscription{bus: b, next: b.next}, nil
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers
}

// Published returns the total number of pages published.
func (b *Bus) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Close marks the end of the stream. Subscribers drain what they have not yet
// read and then receive ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	wake := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()

	close(wake)
}

// oldest returns the sequence number of the oldest page still in the ring.
// Caller holds b.mu.
func (b *Bus) oldest() uint64 {
	capacity := uint64(len(b.ring))
	if b.next <= capacity {
		return 0
	}
	return b.next - capacity
}

// Subscription is one subscriber's cursor into a Bus. It is not safe for
// concurrent use by multiple goroutines.
type Subscription struct {
	bus       *Bus
	next      uint64
	closeOnce sync.Once
}

// Next returns the next page in publish order, blocking until one is
// available, the bus closes, or ctx is done. lagged is the number of pages
// this subscriber lost because it fell more than the bus capacity behind.
// The returned page is shared and must not be modified.
func (s *Subscription) Next(ctx context.Context) (page []byte, lagged uint64, err error) {
	b := s.bus
	for {
		b.mu.Lock()
		if oldest := b.oldest(); s.next < oldest {
			lagged = oldest - s.next
			s.next = oldest
		}
		if s.next < b.next {
			page = b.ring[s.next%uint64(len(b.ring))]
			s.next++
			b.mu.Unlock()
			return page, lagged, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, lagged, ErrBusClosed
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, lagged, ctx.Err()
		}
	}
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		s.bus.subscribers--
		s.bus.mu.Unlock()
	})
}
