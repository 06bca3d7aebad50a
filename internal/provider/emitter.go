package provider

import (
	"encoding/json"
	"sync"
)

// emitter keeps event listeners for providers implemented in this package
type emitter struct {
	mu        sync.Mutex
	next      uint64
	listeners map[string]map[uint64]Listener
}

func (e *emitter) On(event string, listener Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string]map[uint64]Listener)
	}
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[uint64]Listener)
	}
	id := e.next
	e.next++
	e.listeners[event][id] = listener

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[event], id)
	}
}

// emit delivers data to the listeners of event. Listeners run on the
// caller's goroutine, outside the lock.
func (e *emitter) emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	e.mu.Lock()
	listeners := make([]Listener, 0, len(e.listeners[event]))
	for _, l := range e.listeners[event] {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(payload)
	}
}
