package realtime

import (
	"encoding/json"
	"sync"
)

// SubscriptionID identifies one registered handler so it can be removed
// individually. Removing by event name alone would break other still-active
// consumers of the same event, e.g. two chat screens both listening for
// typing_start.
type SubscriptionID int

// Subscription pairs an event name with the handler registered for it.
type Subscription struct {
	Event string
	ID    SubscriptionID
}

// Handler receives the raw payload of one inbound frame.
type Handler func(payload json.RawMessage)

// Dispatcher routes inbound frames to registered handlers, scoped per event
// name. Handlers run synchronously on the connection's read goroutine, so
// events for a room are observed in the order the transport received them.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   SubscriptionID
	handlers map[string]map[SubscriptionID]Handler
	order    map[string][]SubscriptionID
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[SubscriptionID]Handler),
		order:    make(map[string][]SubscriptionID),
	}
}

// On registers a handler for one event name and returns its subscription ID.
func (d *Dispatcher) On(event string, h Handler) SubscriptionID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[SubscriptionID]Handler)
	}
	d.handlers[event][id] = h
	d.order[event] = append(d.order[event], id)
	return id
}

// Off removes a single handler, leaving every other handler for the same
// event name untouched.
func (d *Dispatcher) Off(event string, id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hs, ok := d.handlers[event]
	if !ok {
		return
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(d.handlers, event)
		delete(d.order, event)
		return
	}
	order := d.order[event]
	for i, other := range order {
		if other == id {
			d.order[event] = append(order[:i], order[i+1:]...)
			break
		}
	}
}

// RemoveListeners removes all handlers registered for one event name.
func (d *Dispatcher) RemoveListeners(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	delete(d.order, event)
	d.mu.Unlock()
}

// RemoveAllListeners is the full teardown, used at disconnect so handlers do
// not leak onto a future connection.
func (d *Dispatcher) RemoveAllListeners() {
	d.mu.Lock()
	d.handlers = make(map[string]map[SubscriptionID]Handler)
	d.order = make(map[string][]SubscriptionID)
	d.mu.Unlock()
}

// Dispatch delivers one inbound frame to every handler registered for its
// event name, in registration order. The handler snapshot is taken under the
// read lock so a handler may safely remove itself or others while running.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.RLock()
	ids := append([]SubscriptionID(nil), d.order[env.Type]...)
	hs := d.handlers[env.Type]
	snapshot := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := hs[id]; ok {
			snapshot = append(snapshot, h)
		}
	}
	d.mu.RUnlock()

	for _, h := range snapshot {
		h(env.Payload)
	}
}
