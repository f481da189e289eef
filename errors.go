package neohub

import "errors"

var (
	// ErrNotConnected is returned by commands issued while the client
	// has no live connection. Commands are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidToken is returned when the hub rejects the access
	// token during the websocket handshake.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrNotFound is returned by commands referencing a session or
	// partition the last full state does not know about.
	ErrNotFound = errors.New("unknown session or partition")

	// ErrClosed is returned by Connect after Disconnect was called
	// while a connect attempt was still pending.
	ErrClosed = errors.New("client is closed")
)
