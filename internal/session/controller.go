package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"parentlink-client/internal/models"
	"parentlink-client/internal/realtime"

	"github.com/google/uuid"
)

// Timing knobs are vars so tests can shorten them.
var (
	// typingIdle is how long after the last keystroke typing_stop is sent.
	typingIdle = 2 * time.Second
	// ackTimeout bounds how long a send may stay Pending before it is
	// treated as Failed.
	ackTimeout = 5 * time.Second
)

// historyPageSize is the REST history page size; a shorter page means no more
// history exists.
const historyPageSize = 20

// RealtimeService is the slice of the realtime layer the controller consumes.
type RealtimeService interface {
	JoinChat(ctx context.Context, chatID uuid.UUID) error
	LeaveChat(chatID uuid.UUID)
	Emit(eventType string, payload interface{}) error
	OnMessageReceived(func(realtime.InboundMessagePayload)) realtime.Subscription
	OnMessageSentAck(func(realtime.MessageSentAckPayload)) realtime.Subscription
	OnTypingStart(func(realtime.TypingPayload)) realtime.Subscription
	OnTypingStop(func(realtime.TypingPayload)) realtime.Subscription
	OnMessagesRead(func(realtime.MarkReadPayload)) realtime.Subscription
	Unsubscribe(realtime.Subscription)
}

// HistorySource pages older messages from the REST backend.
type HistorySource interface {
	Messages(ctx context.Context, chatID uuid.UUID, page, limit int) ([]*models.ServerMessage, error)
}

// Controller orchestrates one open chat screen: it owns the room's timeline,
// debounces local typing signals, batches read receipts, and pages history.
// All state lives behind one mutex; realtime handlers, timers, and UI-facing
// calls each take it, so reconciliation operations run to completion before
// the next one starts, mirroring the single event loop the mobile app had.
type Controller struct {
	rt      RealtimeService
	history HistorySource
	room    models.ChatRoom

	// onUpdate, when set, is invoked after any observable state change.
	// Always called without the mutex held.
	onUpdate func()

	mu            sync.Mutex
	timeline      *Timeline
	open          bool
	foreground    bool
	peerTyping    bool
	typingActive  bool
	typingTimer   *time.Timer
	ackTimers     map[string]*time.Timer
	page          int
	noMoreHistory bool
	subs          []realtime.Subscription
}

// NewController builds a controller for one room. Call Open before use and
// Close when the screen goes away.
func NewController(rt RealtimeService, history HistorySource, room models.ChatRoom, onUpdate func()) *Controller {
	return &Controller{
		rt:        rt,
		history:   history,
		room:      room,
		onUpdate:  onUpdate,
		timeline:  NewTimeline(),
		ackTimers: make(map[string]*time.Timer),
	}
}

// Open registers event handlers, joins the room on the realtime channel, and
// loads the first history page. A realtime join failure is not fatal: the
// screen degrades to REST-only reads and sends surface as Failed.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	c.open = true
	c.foreground = true
	c.mu.Unlock()

	// Handlers first, so nothing delivered right after the join is missed.
	subs := []realtime.Subscription{
		c.rt.OnMessageSentAck(c.handleAck),
		c.rt.OnMessageReceived(c.handleInbound),
		c.rt.OnTypingStart(c.handleTypingStart),
		c.rt.OnTypingStop(c.handleTypingStop),
		c.rt.OnMessagesRead(c.handleMessagesRead),
	}
	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()

	if err := c.rt.JoinChat(ctx, c.room.ChatID); err != nil {
		log.Printf("Session %s: realtime join failed, continuing REST-only: %v", c.room.ChatID, err)
	}

	return c.LoadOlder(ctx)
}

// Close tears the session down: stops timers, clears the remote typing flag,
// removes this screen's handlers (other screens keep theirs), and leaves the
// room. Events that still trickle in for this room are ignored from here on.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	c.peerTyping = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	if c.typingActive {
		c.typingActive = false
		if err := c.rt.Emit(realtime.EventTypingStop, realtime.TypingPayload{ChatID: c.room.ChatID, UserID: c.room.CurrentUserID}); err != nil {
			log.Printf("Session %s: typing_stop on close not sent: %v", c.room.ChatID, err)
		}
	}
	for id, timer := range c.ackTimers {
		timer.Stop()
		delete(c.ackTimers, id)
	}
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.rt.Unsubscribe(sub)
	}
	c.rt.LeaveChat(c.room.ChatID)
}

// SendText creates an optimistic local entry and then fires the network send.
// The two effects are deliberately separate and ordered: the message is
// visible before the send outcome is known, and that outcome arrives later
// through the ack/failure event path, never through the return value of the
// network call.
func (c *Controller) SendText(body string) *models.Message {
	msg := &models.Message{
		CorrelationID: uuid.NewString(),
		ChatID:        c.room.ChatID,
		Sender:        models.LocalSender(c.room.CurrentUserID),
		Body:          body,
		CreatedAt:     time.Now(),
		Delivery:      models.DeliveryPending,
	}

	c.mu.Lock()
	c.timeline.AppendLocal(msg)
	c.mu.Unlock()
	c.notify()

	c.emitSend(msg.CorrelationID, body)
	return msg
}

// Retry re-sends a Failed entry in place under a fresh correlation ID.
func (c *Controller) Retry(correlationID string) bool {
	newID := uuid.NewString()

	c.mu.Lock()
	msg := c.timeline.ResetForRetry(correlationID, newID)
	c.mu.Unlock()
	if msg == nil {
		return false
	}
	c.notify()

	c.emitSend(newID, msg.Body)
	return true
}

// emitSend fires the network send for a pending entry. An emit failure (no
// connection, queue full) fails that one message immediately; otherwise an
// ack timer bounds how long it may stay Pending.
func (c *Controller) emitSend(correlationID, body string) {
	err := c.rt.Emit(realtime.EventNewMessage, realtime.NewMessagePayload{
		ChatID:        c.room.ChatID,
		Content:       body,
		CorrelationID: correlationID,
	})
	if err != nil {
		log.Printf("Session %s: send %s failed: %v", c.room.ChatID, correlationID, err)
		c.mu.Lock()
		changed := c.timeline.Fail(correlationID)
		c.mu.Unlock()
		if changed {
			c.notify()
		}
		return
	}

	c.mu.Lock()
	c.ackTimers[correlationID] = time.AfterFunc(ackTimeout, func() {
		c.mu.Lock()
		delete(c.ackTimers, correlationID)
		changed := c.timeline.Fail(correlationID)
		c.mu.Unlock()
		if changed {
			log.Printf("Session %s: no ack for %s within %v, marking failed", c.room.ChatID, correlationID, ackTimeout)
			c.notify()
		}
	})
	c.mu.Unlock()
}

// InputChanged implements the typing debounce: the first keystroke emits
// typing_start, every further keystroke re-arms the idle timer, and the timer
// expiring emits typing_stop. This bounds traffic to one start/stop pair per
// pause in input instead of one event per keystroke.
func (c *Controller) InputChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return
	}

	if !c.typingActive {
		c.typingActive = true
		if err := c.rt.Emit(realtime.EventTypingStart, realtime.TypingPayload{ChatID: c.room.ChatID, UserID: c.room.CurrentUserID}); err != nil {
			log.Printf("Session %s: typing_start not sent: %v", c.room.ChatID, err)
		}
	}

	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(typingIdle, c.typingExpired)
}

func (c *Controller) typingExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.typingActive {
		return
	}
	c.typingActive = false
	if err := c.rt.Emit(realtime.EventTypingStop, realtime.TypingPayload{ChatID: c.room.ChatID, UserID: c.room.CurrentUserID}); err != nil {
		log.Printf("Session %s: typing_stop not sent: %v", c.room.ChatID, err)
	}
}

// SetForeground tracks screen visibility. Coming back to the foreground
// flushes any read receipts accumulated while backgrounded.
func (c *Controller) SetForeground(fg bool) {
	c.mu.Lock()
	c.foreground = fg
	changed := false
	if fg {
		changed = c.flushReadReceiptsLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// LoadOlder fetches the next history page over REST and prepends it. The
// backend serves newest-first pages; they are reversed to chronological order
// before prepending so the block reads naturally. A short page latches the
// no-more-history flag.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.noMoreHistory {
		c.mu.Unlock()
		return nil
	}
	page := c.page
	c.mu.Unlock()

	serverMsgs, err := c.history.Messages(ctx, c.room.ChatID, page, historyPageSize)
	if err != nil {
		return fmt.Errorf("load history page %d for chat %s: %w", page, c.room.ChatID, err)
	}

	batch := make([]*models.Message, 0, len(serverMsgs))
	for i := len(serverMsgs) - 1; i >= 0; i-- {
		batch = append(batch, serverMsgs[i].ToMessage(c.room.CurrentUserID))
	}

	c.mu.Lock()
	if page != c.page {
		// A concurrent load already advanced the page; drop this result.
		c.mu.Unlock()
		return nil
	}
	c.timeline.PrependHistory(batch)
	c.page++
	if len(serverMsgs) < historyPageSize {
		c.noMoreHistory = true
	}
	c.flushReadReceiptsLocked()
	c.mu.Unlock()

	c.notify()
	return nil
}

// flushReadReceiptsLocked emits one mark_read batch covering every unread
// peer-authored message and then optimistically marks them read locally,
// without waiting for the server echo. Caller holds c.mu. Reports whether
// local state changed.
func (c *Controller) flushReadReceiptsLocked() bool {
	if !c.open || !c.foreground {
		return false
	}
	ids := c.timeline.UnreadFromPeer()
	if len(ids) == 0 {
		return false
	}
	if err := c.rt.Emit(realtime.EventMarkRead, realtime.MarkReadPayload{ChatID: c.room.ChatID, MessageIDs: ids}); err != nil {
		log.Printf("Session %s: mark_read batch of %d not sent: %v", c.room.ChatID, len(ids), err)
	}
	return c.timeline.MarkRead(ids) > 0
}

// --- inbound event handlers ---
// Every handler checks the room ID and the open flag before touching state:
// the server may keep sending briefly after a leave, and other screens share
// the same event names.

func (c *Controller) handleAck(p realtime.MessageSentAckPayload) {
	c.mu.Lock()
	if !c.open || p.ChatID != c.room.ChatID {
		c.mu.Unlock()
		return
	}
	if timer, ok := c.ackTimers[p.CorrelationID]; ok {
		timer.Stop()
		delete(c.ackTimers, p.CorrelationID)
	}
	changed := c.timeline.Confirm(p.CorrelationID, p.ServerMsgID, p.Timestamp.Time())
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) handleInbound(p realtime.InboundMessagePayload) {
	c.mu.Lock()
	if !c.open || p.ChatID != c.room.ChatID {
		c.mu.Unlock()
		return
	}
	msg := p.Message.ToMessage(c.room.CurrentUserID)
	added := c.timeline.AppendInbound(msg)
	if added {
		c.flushReadReceiptsLocked()
	}
	c.mu.Unlock()
	if added {
		c.notify()
	}
}

func (c *Controller) handleTypingStart(p realtime.TypingPayload) {
	c.setPeerTyping(p, true)
}

func (c *Controller) handleTypingStop(p realtime.TypingPayload) {
	c.setPeerTyping(p, false)
}

func (c *Controller) setPeerTyping(p realtime.TypingPayload, active bool) {
	c.mu.Lock()
	if !c.open || p.ChatID != c.room.ChatID || p.UserID == c.room.CurrentUserID {
		c.mu.Unlock()
		return
	}
	changed := c.peerTyping != active
	c.peerTyping = active
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) handleMessagesRead(p realtime.MarkReadPayload) {
	c.mu.Lock()
	if !c.open || p.ChatID != c.room.ChatID {
		c.mu.Unlock()
		return
	}
	changed := c.timeline.MarkRead(p.MessageIDs) > 0
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// --- accessors for the UI layer ---

func (c *Controller) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Messages()
}

func (c *Controller) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Controller) HasMoreHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.noMoreHistory
}

func (c *Controller) Room() models.ChatRoom {
	return c.room
}

func (c *Controller) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
