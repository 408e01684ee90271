// Package storage defines the shared throttle store used by the connection
// gatekeeper. Implementations: redis.Client and memory.Client (for -dev
// without Redis).
package storage

import "context"

// ConnThrottle limits how often a single user may establish a WebSocket
// connection. A rejected handshake must be retried by the client from
// scratch, so a tight window here also caps reconnect storms.
type ConnThrottle interface {
	// AllowConnect records one handshake attempt for the user and reports
	// whether it is within the window.
	AllowConnect(ctx context.Context, userID string) (bool, error)
	Close() error
}
