package keystore

import "sync"

// ReloadEvent announces that secrets changed outside the agent.
//
// StoreID names the affected store; an empty StoreID means every store and
// any derived state (such as certificate overlays) should be refreshed.
type ReloadEvent struct {
	StoreID string
	Source  string
}

// AllStores reports whether the event targets every store.
func (e ReloadEvent) AllStores() bool {
	return e.StoreID == ""
}

// Broadcaster fans reload events out to subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
// The zero value is ready to use.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ReloadEvent
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 16

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan ReloadEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan ReloadEvent)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan ReloadEvent, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers event to every current subscriber.
func (b *Broadcaster) Publish(event ReloadEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
