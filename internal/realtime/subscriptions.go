package realtime

import (
	"encoding/json"
	"log"
)

// Typed subscription helpers for the fixed set of domain events the chat
// session layer consumes. Each decodes its payload once and drops frames that
// do not parse; a malformed frame from the server must never take a handler
// down.

func (s *Service) OnMessageReceived(h func(InboundMessagePayload)) Subscription {
	return s.on(EventNewMessage, func(raw json.RawMessage) {
		var p InboundMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Printf("Realtime: bad %s payload: %v", EventNewMessage, err)
			return
		}
		h(p)
	})
}

func (s *Service) OnMessageSentAck(h func(MessageSentAckPayload)) Subscription {
	return s.on(EventMessageSentAck, func(raw json.RawMessage) {
		var p MessageSentAckPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Printf("Realtime: bad %s payload: %v", EventMessageSentAck, err)
			return
		}
		h(p)
	})
}

func (s *Service) OnTypingStart(h func(TypingPayload)) Subscription {
	return s.onTyping(EventTypingStart, h)
}

func (s *Service) OnTypingStop(h func(TypingPayload)) Subscription {
	return s.onTyping(EventTypingStop, h)
}

func (s *Service) onTyping(event string, h func(TypingPayload)) Subscription {
	return s.on(event, func(raw json.RawMessage) {
		var p TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Printf("Realtime: bad %s payload: %v", event, err)
			return
		}
		h(p)
	})
}

func (s *Service) OnMessagesRead(h func(MarkReadPayload)) Subscription {
	return s.on(EventMessagesRead, func(raw json.RawMessage) {
		var p MarkReadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Printf("Realtime: bad %s payload: %v", EventMessagesRead, err)
			return
		}
		h(p)
	})
}

// On registers a raw handler for any event name.
func (s *Service) On(event string, h Handler) Subscription {
	return s.on(event, h)
}

func (s *Service) on(event string, h Handler) Subscription {
	id := s.dispatcher.On(event, h)
	return Subscription{Event: event, ID: id}
}

// Unsubscribe removes a single handler without disturbing other consumers of
// the same event.
func (s *Service) Unsubscribe(sub Subscription) {
	s.dispatcher.Off(sub.Event, sub.ID)
}

// RemoveListeners removes every handler this service registered for one
// event name.
func (s *Service) RemoveListeners(event string) {
	s.dispatcher.RemoveListeners(event)
}
