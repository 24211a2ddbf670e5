package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"parentlink-client/internal/models"
	"parentlink-client/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecord struct {
	event   string
	payload interface{}
}

// fakeRealtime records emits and lets tests drive inbound events through the
// same handler path the real service uses.
type fakeRealtime struct {
	mu      sync.Mutex
	emitErr error
	joinErr error
	emits   []emitRecord
	left    []uuid.UUID
	removed []realtime.Subscription
	nextID  realtime.SubscriptionID

	ackHandlers     []func(realtime.MessageSentAckPayload)
	inboundHandlers []func(realtime.InboundMessagePayload)
	typingStart     []func(realtime.TypingPayload)
	typingStop      []func(realtime.TypingPayload)
	readHandlers    []func(realtime.MarkReadPayload)
}

func newFakeRealtime() *fakeRealtime { return &fakeRealtime{} }

func (f *fakeRealtime) JoinChat(ctx context.Context, chatID uuid.UUID) error { return f.joinErr }

func (f *fakeRealtime) LeaveChat(chatID uuid.UUID) {
	f.mu.Lock()
	f.left = append(f.left, chatID)
	f.mu.Unlock()
}

func (f *fakeRealtime) Emit(eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitRecord{event: eventType, payload: payload})
	return nil
}

func (f *fakeRealtime) sub(event string) realtime.Subscription {
	f.nextID++
	return realtime.Subscription{Event: event, ID: f.nextID}
}

func (f *fakeRealtime) OnMessageSentAck(h func(realtime.MessageSentAckPayload)) realtime.Subscription {
	f.ackHandlers = append(f.ackHandlers, h)
	return f.sub(realtime.EventMessageSentAck)
}

func (f *fakeRealtime) OnMessageReceived(h func(realtime.InboundMessagePayload)) realtime.Subscription {
	f.inboundHandlers = append(f.inboundHandlers, h)
	return f.sub(realtime.EventNewMessage)
}

func (f *fakeRealtime) OnTypingStart(h func(realtime.TypingPayload)) realtime.Subscription {
	f.typingStart = append(f.typingStart, h)
	return f.sub(realtime.EventTypingStart)
}

func (f *fakeRealtime) OnTypingStop(h func(realtime.TypingPayload)) realtime.Subscription {
	f.typingStop = append(f.typingStop, h)
	return f.sub(realtime.EventTypingStop)
}

func (f *fakeRealtime) OnMessagesRead(h func(realtime.MarkReadPayload)) realtime.Subscription {
	f.readHandlers = append(f.readHandlers, h)
	return f.sub(realtime.EventMessagesRead)
}

func (f *fakeRealtime) Unsubscribe(sub realtime.Subscription) {
	f.mu.Lock()
	f.removed = append(f.removed, sub)
	f.mu.Unlock()
}

func (f *fakeRealtime) deliverAck(p realtime.MessageSentAckPayload) {
	for _, h := range f.ackHandlers {
		h(p)
	}
}

func (f *fakeRealtime) deliverInbound(p realtime.InboundMessagePayload) {
	for _, h := range f.inboundHandlers {
		h(p)
	}
}

func (f *fakeRealtime) deliverTypingStart(p realtime.TypingPayload) {
	for _, h := range f.typingStart {
		h(p)
	}
}

func (f *fakeRealtime) deliverTypingStop(p realtime.TypingPayload) {
	for _, h := range f.typingStop {
		h(p)
	}
}

func (f *fakeRealtime) deliverRead(p realtime.MarkReadPayload) {
	for _, h := range f.readHandlers {
		h(p)
	}
}

func (f *fakeRealtime) emitted(event string) []emitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitRecord
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeHistory serves canned pages.
type fakeHistory struct {
	pages map[int][]*models.ServerMessage
	calls int
}

func (f *fakeHistory) Messages(ctx context.Context, chatID uuid.UUID, page, limit int) ([]*models.ServerMessage, error) {
	f.calls++
	return f.pages[page], nil
}

func newTestController(t *testing.T, rt *fakeRealtime, history *fakeHistory) (*Controller, models.ChatRoom) {
	t.Helper()
	if history == nil {
		history = &fakeHistory{}
	}
	room := models.ChatRoom{
		ChatID:        uuid.New(),
		PeerID:        uuid.New(),
		CurrentUserID: uuid.New(),
	}
	ctrl := NewController(rt, history, room, nil)
	require.NoError(t, ctrl.Open(context.Background()))
	return ctrl, room
}

func serverMsg(chatID, senderID uuid.UUID, body string, at time.Time) *models.ServerMessage {
	return &models.ServerMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   body,
		Timestamp: models.JSONTime(at),
	}
}

func TestSendTextOptimisticThenConfirmed(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	msg := ctrl.SendText("hi")
	require.Len(t, ctrl.Messages(), 1)
	assert.Equal(t, models.DeliveryPending, ctrl.Messages()[0].Delivery)
	assert.True(t, ctrl.Messages()[0].Sender.IsLocal)

	sends := rt.emitted(realtime.EventNewMessage)
	require.Len(t, sends, 1)
	payload := sends[0].payload.(realtime.NewMessagePayload)
	assert.Equal(t, msg.CorrelationID, payload.CorrelationID)

	serverID := uuid.New()
	rt.deliverAck(realtime.MessageSentAckPayload{
		ChatID:        room.ChatID,
		ServerMsgID:   serverID,
		Timestamp:     models.JSONTime(time.Now()),
		CorrelationID: msg.CorrelationID,
	})

	msgs := ctrl.Messages()
	require.Len(t, msgs, 1, "confirmation must not create a second entry")
	assert.Equal(t, serverID, msgs[0].ID)
	assert.Equal(t, models.DeliverySent, msgs[0].Delivery)
}

func TestSendTextFailsImmediatelyWhenOffline(t *testing.T) {
	rt := newFakeRealtime()
	rt.emitErr = realtime.ErrNotConnected
	ctrl, _ := newTestController(t, rt, nil)
	defer ctrl.Close()

	ctrl.SendText("hi")

	msgs := ctrl.Messages()
	require.Len(t, msgs, 1, "the message is still shown")
	assert.Equal(t, models.DeliveryFailed, msgs[0].Delivery)
}

func TestAckTimeoutMarksFailed(t *testing.T) {
	old := ackTimeout
	ackTimeout = 30 * time.Millisecond
	defer func() { ackTimeout = old }()

	rt := newFakeRealtime()
	ctrl, _ := newTestController(t, rt, nil)
	defer ctrl.Close()

	ctrl.SendText("hi")
	require.Eventually(t, func() bool {
		return ctrl.Messages()[0].Delivery == models.DeliveryFailed
	}, time.Second, 5*time.Millisecond)
}

func TestRetryResendsInPlace(t *testing.T) {
	rt := newFakeRealtime()
	rt.emitErr = realtime.ErrNotConnected
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	ctrl.SendText("first")
	failed := ctrl.SendText("second")
	rt.deliverInbound(realtime.InboundMessagePayload{
		ChatID:  room.ChatID,
		Message: *serverMsg(room.ChatID, room.PeerID, "from peer", time.Now()),
	})

	rt.mu.Lock()
	rt.emitErr = nil
	rt.mu.Unlock()

	origCorrelation := failed.CorrelationID
	require.True(t, ctrl.Retry(origCorrelation))
	msgs := ctrl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "second", msgs[1].Body, "retried entry keeps its position")
	assert.Equal(t, models.DeliveryPending, msgs[1].Delivery)
	assert.NotEqual(t, origCorrelation, msgs[1].CorrelationID, "retry uses a fresh correlation id")
}

func TestInboundDuplicateDelivery(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	payload := realtime.InboundMessagePayload{
		ChatID:  room.ChatID,
		Message: *serverMsg(room.ChatID, room.PeerID, "hello", time.Now()),
	}
	rt.deliverInbound(payload)
	rt.deliverInbound(payload)

	assert.Len(t, ctrl.Messages(), 1)
}

func TestEventsForOtherRoomsIgnored(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, _ := newTestController(t, rt, nil)
	defer ctrl.Close()

	otherRoom := uuid.New()
	rt.deliverInbound(realtime.InboundMessagePayload{
		ChatID:  otherRoom,
		Message: *serverMsg(otherRoom, uuid.New(), "wrong room", time.Now()),
	})
	rt.deliverTypingStart(realtime.TypingPayload{ChatID: otherRoom, UserID: uuid.New()})

	assert.Empty(t, ctrl.Messages())
	assert.False(t, ctrl.PeerTyping())
}

func TestEventsAfterCloseIgnored(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)

	ctrl.Close()
	assert.Contains(t, rt.left, room.ChatID)
	assert.Len(t, rt.removed, 5, "every subscription is removed on close")

	// The server keeps sending briefly after the leave; nothing may land.
	rt.deliverInbound(realtime.InboundMessagePayload{
		ChatID:  room.ChatID,
		Message: *serverMsg(room.ChatID, room.PeerID, "late", time.Now()),
	})
	assert.Empty(t, ctrl.Messages())
}

func TestTypingDebounce(t *testing.T) {
	old := typingIdle
	typingIdle = 40 * time.Millisecond
	defer func() { typingIdle = old }()

	rt := newFakeRealtime()
	ctrl, _ := newTestController(t, rt, nil)
	defer ctrl.Close()

	ctrl.InputChanged()
	ctrl.InputChanged()
	ctrl.InputChanged()

	assert.Len(t, rt.emitted(realtime.EventTypingStart), 1, "one start per burst, not per keystroke")
	assert.Empty(t, rt.emitted(realtime.EventTypingStop))

	require.Eventually(t, func() bool {
		return len(rt.emitted(realtime.EventTypingStop)) == 1
	}, time.Second, 5*time.Millisecond)

	// A new burst starts a new pair.
	ctrl.InputChanged()
	assert.Len(t, rt.emitted(realtime.EventTypingStart), 2)
}

func TestPeerTypingIndicator(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	rt.deliverTypingStart(realtime.TypingPayload{ChatID: room.ChatID, UserID: room.PeerID})
	assert.True(t, ctrl.PeerTyping())

	// The local user's own echo never flips the flag.
	rt.deliverTypingStart(realtime.TypingPayload{ChatID: room.ChatID, UserID: room.CurrentUserID})
	assert.True(t, ctrl.PeerTyping())

	rt.deliverTypingStop(realtime.TypingPayload{ChatID: room.ChatID, UserID: room.PeerID})
	assert.False(t, ctrl.PeerTyping())
}

func TestReadReceiptBatchOnInbound(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	msg := serverMsg(room.ChatID, room.PeerID, "unread", time.Now())
	rt.deliverInbound(realtime.InboundMessagePayload{ChatID: room.ChatID, Message: *msg})

	batches := rt.emitted(realtime.EventMarkRead)
	require.Len(t, batches, 1)
	payload := batches[0].payload.(realtime.MarkReadPayload)
	assert.Equal(t, []uuid.UUID{msg.ID}, payload.MessageIDs)

	// Optimistically marked read locally, so the next inbound message only
	// batches itself.
	assert.True(t, ctrl.Messages()[0].Read)
	next := serverMsg(room.ChatID, room.PeerID, "another", time.Now())
	rt.deliverInbound(realtime.InboundMessagePayload{ChatID: room.ChatID, Message: *next})
	batches = rt.emitted(realtime.EventMarkRead)
	require.Len(t, batches, 2)
	assert.Equal(t, []uuid.UUID{next.ID}, batches[1].payload.(realtime.MarkReadPayload).MessageIDs)
}

func TestNoReadReceiptsWhileBackgrounded(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	ctrl.SetForeground(false)
	msg := serverMsg(room.ChatID, room.PeerID, "while away", time.Now())
	rt.deliverInbound(realtime.InboundMessagePayload{ChatID: room.ChatID, Message: *msg})
	assert.Empty(t, rt.emitted(realtime.EventMarkRead))
	assert.False(t, ctrl.Messages()[0].Read)

	// Foregrounding flushes the accumulated batch.
	ctrl.SetForeground(true)
	require.Len(t, rt.emitted(realtime.EventMarkRead), 1)
	assert.True(t, ctrl.Messages()[0].Read)
}

func TestPeerReadReceiptsApplied(t *testing.T) {
	rt := newFakeRealtime()
	ctrl, room := newTestController(t, rt, nil)
	defer ctrl.Close()

	sent := ctrl.SendText("did you see this")
	serverID := uuid.New()
	rt.deliverAck(realtime.MessageSentAckPayload{
		ChatID:        room.ChatID,
		ServerMsgID:   serverID,
		Timestamp:     models.JSONTime(time.Now()),
		CorrelationID: sent.CorrelationID,
	})

	batch := realtime.MarkReadPayload{ChatID: room.ChatID, MessageIDs: []uuid.UUID{serverID}}
	rt.deliverRead(batch)
	assert.True(t, ctrl.Messages()[0].Read)
	// Idempotent on redelivery.
	rt.deliverRead(batch)
	assert.True(t, ctrl.Messages()[0].Read)
	assert.Len(t, ctrl.Messages(), 1)
}

func TestHistoryPagination(t *testing.T) {
	room := models.ChatRoom{ChatID: uuid.New(), PeerID: uuid.New(), CurrentUserID: uuid.New()}

	// The backend serves newest-first pages. Page 0 is full, page 1 short.
	newer := make([]*models.ServerMessage, historyPageSize)
	for i := range newer {
		newer[i] = serverMsg(room.ChatID, room.PeerID, fmt.Sprintf("newer-%d", i), time.Now().Add(-time.Duration(i)*time.Minute))
	}
	older := []*models.ServerMessage{
		serverMsg(room.ChatID, room.PeerID, "oldest", time.Now().Add(-2*time.Hour)),
	}
	history := &fakeHistory{pages: map[int][]*models.ServerMessage{0: newer, 1: older}}

	rt := newFakeRealtime()
	ctrl := NewController(rt, history, room, nil)
	require.NoError(t, ctrl.Open(context.Background()))
	defer ctrl.Close()

	require.Equal(t, historyPageSize, len(ctrl.Messages()))
	assert.True(t, ctrl.HasMoreHistory())
	// Chronological order: the newest entry of the page is last.
	assert.Equal(t, "newer-0", ctrl.Messages()[historyPageSize-1].Body)

	require.NoError(t, ctrl.LoadOlder(context.Background()))
	msgs := ctrl.Messages()
	require.Equal(t, historyPageSize+1, len(msgs))
	assert.Equal(t, "oldest", msgs[0].Body, "older page is prepended as a block")
	assert.False(t, ctrl.HasMoreHistory(), "short page latches no-more-history")

	// Further loads are no-ops.
	calls := history.calls
	require.NoError(t, ctrl.LoadOlder(context.Background()))
	assert.Equal(t, calls, history.calls)
}

func TestJoinFailureDegradesToRestOnly(t *testing.T) {
	room := models.ChatRoom{ChatID: uuid.New(), PeerID: uuid.New(), CurrentUserID: uuid.New()}
	history := &fakeHistory{pages: map[int][]*models.ServerMessage{
		0: {serverMsg(room.ChatID, room.PeerID, "from rest", time.Now())},
	}}

	rt := newFakeRealtime()
	rt.joinErr = realtime.ErrNoCredential
	rt.emitErr = realtime.ErrNotConnected
	ctrl := NewController(rt, history, room, nil)
	require.NoError(t, ctrl.Open(context.Background()))
	defer ctrl.Close()

	// History still loads; sends fail visibly instead of crashing.
	require.Len(t, ctrl.Messages(), 1)
	ctrl.SendText("hi")
	assert.Equal(t, models.DeliveryFailed, ctrl.Messages()[1].Delivery)
}
