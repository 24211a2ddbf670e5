package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"parentlink-client/internal/credentials"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 8192
	sendBufferSize   = 256
)

// Reconnection is deliberately bounded: a small fixed attempt count with
// linear backoff. Vars so tests can shorten the delays.
var (
	reconnectAttempts  = 5
	reconnectBaseDelay = 2 * time.Second
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Service maintains the single realtime connection for the running app
// instance. It is created once at startup and shared by every chat screen;
// the connection itself is established lazily on first use and torn down
// explicitly at logout via Disconnect.
type Service struct {
	baseURL    string
	creds      *credentials.Store
	dispatcher *Dispatcher

	mu      sync.Mutex
	state   connState
	conn    *websocket.Conn
	send    chan []byte
	waiters []chan error
	joined  map[uuid.UUID]bool
	closing bool
}

// NewService wires a Service against the backend base URL (http or https; the
// scheme is rewritten for the websocket endpoint) and the shared credential
// store.
func NewService(baseURL string, creds *credentials.Store) *Service {
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		dispatcher: NewDispatcher(),
		joined:     make(map[uuid.UUID]bool),
	}
}

// Connect establishes the realtime connection. It is idempotent: if already
// connected it returns immediately, and if an attempt is in flight the caller
// waits on that attempt instead of starting a second one. With no credential
// available it returns ErrNoCredential without dialing, and callers fall back
// to REST-only behavior.
func (s *Service) Connect(ctx context.Context) error {
	if !s.creds.HasCredential() {
		return ErrNoCredential
	}

	s.mu.Lock()
	switch s.state {
	case stateConnected:
		s.mu.Unlock()
		return nil
	case stateConnecting:
		ch := make(chan error, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = stateConnecting
	s.closing = false
	s.mu.Unlock()

	err := s.dial(ctx)
	s.finishAttempt(err)
	return err
}

// dial performs one connection attempt and, on success, starts the pumps and
// re-emits membership for every previously joined room.
func (s *Service) dial(ctx context.Context) error {
	token := s.creds.Token()
	endpoint, err := s.websocketURL(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// The token travels both as a query parameter and as a bearer header so
	// either server-side extraction strategy works.
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %v (status %d)", ErrConnectionFailed, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	send := make(chan []byte, sendBufferSize)

	s.mu.Lock()
	if s.closing {
		// Disconnect raced with this attempt; do not resurrect the connection.
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: disconnect requested", ErrConnectionFailed)
	}
	s.conn = conn
	s.send = send
	// Re-join frames are queued before the pumps exist. Once the read pump is
	// running a drop may close the send channel at any moment, so nothing may
	// write to it outside the lock.
	for chatID := range s.joined {
		if data, encErr := EncodeEnvelope(EventJoinChat, RoomPayload{ChatID: chatID}); encErr == nil {
			select {
			case send <- data:
			default:
				log.Printf("Realtime: dropping re-join for chat %s, send queue full", chatID)
			}
		}
	}
	rejoined := len(s.joined)
	s.mu.Unlock()

	go s.writePump(conn, send)
	go s.readPump(conn, send)

	if rejoined > 0 {
		log.Printf("Realtime: re-joined %d room(s) after (re)connect", rejoined)
	}
	return nil
}

// finishAttempt flips the connection state and resolves every caller waiting
// on the attempt.
func (s *Service) finishAttempt(err error) {
	s.mu.Lock()
	if err != nil {
		s.state = stateDisconnected
	} else {
		s.state = stateConnected
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

func (s *Service) websocketURL(token string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", s.baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Service) readPump(conn *websocket.Conn, send chan []byte) {
	defer func() {
		conn.Close()
		s.handleDrop(conn, send)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Realtime: read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Realtime: dropping malformed frame: %v", err)
			continue
		}
		s.dispatcher.Dispatch(env)
	}
}

func (s *Service) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Realtime: write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Realtime: ping error: %v", err)
				return
			}
		}
	}
}

// handleDrop runs when the read pump for a connection exits. An intentional
// Disconnect stays down; an unexpected drop starts bounded reconnection.
func (s *Service) handleDrop(conn *websocket.Conn, send chan []byte) {
	s.mu.Lock()
	if s.conn != conn {
		// A stale pump from an already replaced connection.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.send = nil
	close(send)
	s.state = stateDisconnected
	closing := s.closing
	s.mu.Unlock()

	if closing {
		return
	}
	log.Printf("Realtime: connection dropped, starting reconnect")
	go s.reconnect()
}

// reconnect retries a small fixed number of times with linear backoff. Rooms
// joined before the drop are re-joined by dial on success. If every attempt
// fails the service stays disconnected; emits return ErrNotConnected until a
// caller invokes Connect again.
func (s *Service) reconnect() {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		time.Sleep(time.Duration(attempt) * reconnectBaseDelay)

		s.mu.Lock()
		if s.closing || s.state != stateDisconnected {
			s.mu.Unlock()
			return
		}
		s.state = stateConnecting
		s.mu.Unlock()

		err := s.dial(context.Background())
		s.finishAttempt(err)
		if err == nil {
			log.Printf("Realtime: reconnected after %d attempt(s)", attempt)
			return
		}
		log.Printf("Realtime: reconnect attempt %d/%d failed: %v", attempt, reconnectAttempts, err)
	}
	log.Printf("Realtime: giving up after %d reconnect attempts", reconnectAttempts)
}

// Emit queues one outbound frame. It never blocks and never throws: with no
// live connection it reports ErrNotConnected and the caller decides how to
// degrade.
func (s *Service) Emit(eventType string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(eventType, payload)
}

func (s *Service) emitLocked(eventType string, payload interface{}) error {
	if s.state != stateConnected || s.send == nil {
		return ErrNotConnected
	}
	data, err := EncodeEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	default:
		log.Printf("Realtime: send queue full, dropping %s", eventType)
		return ErrSendQueueFull
	}
}

// Connected reports whether a live connection exists.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// Disconnect tears down all event handlers first (so none leak onto a future
// connection), then closes the connection and resets state so a later Connect
// starts fresh. Called at logout.
func (s *Service) Disconnect() {
	s.dispatcher.RemoveAllListeners()

	s.mu.Lock()
	s.closing = true
	s.joined = make(map[uuid.UUID]bool)
	s.state = stateDisconnected
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(writeWait))
		conn.Close()
	}
	log.Printf("Realtime: disconnected")
}
