package events

import (
	"sync"
)

// DefaultSubscriptionCapacity is the buffer size used by Subscribe when the
// caller passes a non-positive capacity
const DefaultSubscriptionCapacity = 100

// ChannelEvent provides pub/sub behavior using channels
// T is the type of the value sent to channels
type ChannelEvent[T any] struct {
	mu                    sync.RWMutex
	channels              map[uint64]chan<- T
	owned                 map[uint64]chan T
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
	hasNotified           bool
	dropped               uint64
}

// NewChannelEvent creates a new ChannelEvent instance
// sendLastEventOnListen: if true, the ChannelEvent will remember the last Notify parameter
// and send it to new listeners immediately if Notify has been called at least once
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:              make(map[uint64]chan<- T),
		owned:                 make(map[uint64]chan T),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers a caller owned channel to receive values when Notify is invoked.
// Sends are non-blocking: when ch is full the value is skipped for that listener.
// Returns a deregistration function that can be called to remove the listener
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	lastEventCopy, shouldSendLastEvent := e.lastEventLocked()
	e.mu.Unlock()

	if shouldSendLastEvent {
		select {
		case ch <- lastEventCopy:
		default:
			// Channel is full, skip sending last event
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Subscribe creates a bounded channel owned by the ChannelEvent.
// When the subscriber falls behind, the oldest buffered value is discarded
// to make room for the new one, so Notify never blocks on a slow reader.
// The returned cancel function removes the subscription and closes the channel.
func (e *ChannelEvent[T]) Subscribe(capacity int) (<-chan T, func()) {
	if capacity <= 0 {
		capacity = DefaultSubscriptionCapacity
	}
	ch := make(chan T, capacity)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.owned[id] = ch
	lastEventCopy, shouldSendLastEvent := e.lastEventLocked()
	if shouldSendLastEvent {
		ch <- lastEventCopy
	}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			if _, ok := e.owned[id]; ok {
				delete(e.owned, id)
				close(ch)
			}
			e.mu.Unlock()
		})
	}
}

func (e *ChannelEvent[T]) lastEventLocked() (T, bool) {
	var zero T
	if !e.sendLastEventOnListen || !e.hasNotified || e.lastEvent == nil {
		return zero, false
	}
	return *e.lastEvent, true
}

// Notify sends the provided value to all registered channels
// This operation is thread-safe and never blocks.
func (e *ChannelEvent[T]) Notify(value T) {
	if e.sendLastEventOnListen {
		e.mu.Lock()
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
		e.mu.Unlock()
	}

	// Sends happen under the read lock so Subscribe's cancel cannot close
	// an owned channel mid-send. Every send below is non-blocking.
	e.mu.RLock()
	var dropped uint64
	for _, ch := range e.channels {
		select {
		case ch <- value:
		default:
			dropped++
		}
	}
	for _, ch := range e.owned {
		if !sendDropOldest(ch, value) {
			dropped++
		}
	}
	e.mu.RUnlock()

	if dropped > 0 {
		e.mu.Lock()
		e.dropped += dropped
		e.mu.Unlock()
	}
}

// sendDropOldest delivers value to ch, evicting the oldest queued value when
// ch is full. It reports false if a value had to be discarded.
func sendDropOldest[T any](ch chan T, value T) bool {
	select {
	case ch <- value:
		return true
	default:
	}
	for {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
			return false
		default:
			// another Notify refilled the slot, evict again
		}
	}
}

// ListenerCount returns the current number of registered listeners
// This is useful for testing and debugging
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels) + len(e.owned)
}

// Dropped returns how many deliveries were skipped or evicted because a
// listener's buffer was full
func (e *ChannelEvent[T]) Dropped() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dropped
}

// Close removes every listener and closes all channels created by Subscribe
func (e *ChannelEvent[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.owned {
		delete(e.owned, id)
		close(ch)
	}
	for id := range e.channels {
		delete(e.channels, id)
	}
}
