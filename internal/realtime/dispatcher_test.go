package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rawEnvelope(eventType, payload string) Envelope {
	return Envelope{Type: eventType, Payload: json.RawMessage(payload)}
}

func TestDispatchReachesAllHandlersInOrder(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.On("typing_start", func(json.RawMessage) { got = append(got, "a") })
	d.On("typing_start", func(json.RawMessage) { got = append(got, "b") })
	d.On("typing_stop", func(json.RawMessage) { got = append(got, "x") })

	d.Dispatch(rawEnvelope("typing_start", `{}`))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOffRemovesOnlyOneHandler(t *testing.T) {
	d := NewDispatcher()
	var first, second int
	// Two screens listening for the same event: removing one must not
	// disturb the other.
	id := d.On("new_message", func(json.RawMessage) { first++ })
	d.On("new_message", func(json.RawMessage) { second++ })

	d.Off("new_message", id)
	d.Dispatch(rawEnvelope("new_message", `{}`))

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestOffPrunesRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	keep := d.On("new_message", func(json.RawMessage) {})

	// A long-lived process cycles many screens on and off the same event; the
	// per-event order must track the live handlers, not every registration
	// ever made.
	for i := 0; i < 1000; i++ {
		id := d.On("new_message", func(json.RawMessage) {})
		d.Off("new_message", id)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.Equal(t, []SubscriptionID{keep}, d.order["new_message"])
	assert.Len(t, d.handlers["new_message"], 1)
}

func TestRemoveListenersClearsOneEvent(t *testing.T) {
	d := NewDispatcher()
	var typing, messages int
	d.On("typing_start", func(json.RawMessage) { typing++ })
	d.On("new_message", func(json.RawMessage) { messages++ })

	d.RemoveListeners("typing_start")
	d.Dispatch(rawEnvelope("typing_start", `{}`))
	d.Dispatch(rawEnvelope("new_message", `{}`))

	assert.Equal(t, 0, typing)
	assert.Equal(t, 1, messages)
}

func TestRemoveAllListeners(t *testing.T) {
	d := NewDispatcher()
	var calls int
	d.On("typing_start", func(json.RawMessage) { calls++ })
	d.On("new_message", func(json.RawMessage) { calls++ })

	d.RemoveAllListeners()
	d.Dispatch(rawEnvelope("typing_start", `{}`))
	d.Dispatch(rawEnvelope("new_message", `{}`))
	assert.Equal(t, 0, calls)
}

func TestHandlerMayRemoveItselfDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	var calls int
	var id SubscriptionID
	id = d.On("new_message", func(json.RawMessage) {
		calls++
		d.Off("new_message", id)
	})

	d.Dispatch(rawEnvelope("new_message", `{}`))
	d.Dispatch(rawEnvelope("new_message", `{}`))
	assert.Equal(t, 1, calls)
}

func TestDispatchUnknownEventIsNoOp(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(rawEnvelope("unheard_of", `{}`))
}
