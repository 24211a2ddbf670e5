package realtime

import "fmt"

var (
	// ErrNoCredential is returned when a connection is requested but no
	// bearer token is available. Callers are expected to degrade to
	// REST-only behavior rather than treat this as fatal.
	ErrNoCredential = fmt.Errorf("realtime: no credential available")

	// ErrConnectionFailed is returned when the handshake fails or times out.
	ErrConnectionFailed = fmt.Errorf("realtime: connection failed")

	// ErrNotConnected is returned by operations that require a live
	// connection. It is recoverable: the caller may retry after Connect.
	ErrNotConnected = fmt.Errorf("realtime: not connected")

	// ErrSendQueueFull is returned when the outbound queue is saturated and
	// a frame had to be dropped.
	ErrSendQueueFull = fmt.Errorf("realtime: send queue full")
)
