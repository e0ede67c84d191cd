package workspace

import (
	"sync"
	"time"
)

// EventHandler is a function that handles workspace events
type EventHandler func(payload interface{})

// Emitter broadcasts workspace events to subscribers
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Event][]EventHandler
}

// NewEmitter creates a new event emitter
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[Event][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *Emitter) On(event Event, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[event] = append(e.listeners[event], handler)
}

// Emit emits an event with a payload (asynchronously)
func (e *Emitter) Emit(event Event, payload interface{}) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()

	for _, handler := range handlers {
		go handler(payload)
	}
}

// EmitChanges emits a plugins changed event
func (e *Emitter) EmitChanges(changes ChangeSet) {
	if changes.At.IsZero() {
		changes.At = time.Now()
	}
	e.Emit(EventPluginsChanged, changes)
}

// EmitError emits an error event
func (e *Emitter) EmitError(err error, context map[string]interface{}) {
	e.Emit(EventError, ErrorPayload{
		Timestamp: time.Now(),
		Error:     err,
		Context:   context,
	})
}

// RemoveAllListeners removes all event listeners
func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[Event][]EventHandler)
}
