// Package core provides the fundamental building blocks of the golemref library.
// This file defines the events emitted after resolutions, deletions and
// update commands complete.
package core

import "sync"

// Event represents a lifecycle event that can be emitted by a Database.
type Event string

const (
	// EventResolve is emitted after a reference lookup completes, whether or
	// not the target was found.
	EventResolve Event = "resolve"
	// EventDelete is emitted after a reference target delete completes.
	EventDelete Event = "delete"
	// EventUpdate is emitted after an update command reply was interpreted.
	EventUpdate Event = "update"
)

// EventHandler defines the callback signature for event listeners.
// The payload argument is a ResolvePayload, DeletePayload or UpdatePayload
// depending on the event.
type EventHandler func(payload any)

// EventDispatcher manages a list of event handlers and dispatches them
// when the corresponding events are emitted.
type EventDispatcher struct {
	mutex       sync.RWMutex
	handlerList map[Event][]EventHandler
}

// NewEventDispatcher creates an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{handlerList: make(map[Event][]EventHandler)}
}

// On registers an EventHandler for a specific Event.
//
// Example:
//
//	db.Events().On(core.EventUpdate, func(payload any) {
//	    if p, ok := payload.(core.UpdatePayload); ok && p.Reply.Partial() {
//	        log.Printf("partial update on %s: %v", p.Collection, p.Reply.FailedIndexes())
//	    }
//	})
func (d *EventDispatcher) On(event Event, handler EventHandler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.handlerList[event] = append(d.handlerList[event], handler)
}

// Emit triggers all registered handlers for the given Event.
//
// Handlers are executed asynchronously in separate goroutines.
func (d *EventDispatcher) Emit(event Event, payload any) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for _, h := range d.handlerList[event] {
		go h(payload)
	}
}

// ResolvePayload is passed to EventResolve handlers.
type ResolvePayload struct {
	Collection string
	Identifier any
	Found      bool
}

// DeletePayload is passed to EventDelete handlers.
type DeletePayload struct {
	Collection string
	Identifier any
	Deleted    int64
}

// UpdatePayload is passed to EventUpdate handlers. Reply is set even when the
// command failed with ok != 1.
type UpdatePayload struct {
	Collection string
	Reply      *UpdateReply
}
