package events

import (
	"sync"
)

type callbackEntry[T any] struct {
	id uint64
	fn func(T)
}

// CallbackEvent calls registered functions synchronously on Notify, in the
// order they were registered. Callbacks run outside the lock and may
// register or unregister listeners themselves.
type CallbackEvent[T any] struct {
	mu                    sync.RWMutex
	listeners             []callbackEntry[T]
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             T
	hasNotified           bool
}

// NewCallbackEvent creates a CallbackEvent. With sendLastEventOnListen a new
// listener is called right away with the most recent value, if any.
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{sendLastEventOnListen: sendLastEventOnListen}
}

// Listen registers callback and returns its deregistration function
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, callbackEntry[T]{id: id, fn: callback})
	replay := e.sendLastEventOnListen && e.hasNotified
	last := e.lastEvent
	e.mu.Unlock()

	if replay {
		callback(last)
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Notify calls every listener with value before returning
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.sendLastEventOnListen {
		e.lastEvent = value
		e.hasNotified = true
	}
	snapshot := e.listeners
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(value)
	}
}

func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
