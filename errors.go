package game

import (
	"errors"
	"fmt"

	"github.com/EverCrawl/game/internal/protocol"
)

// Connection errors. Each one is fatal to the connection it occurs on and
// never escapes that connection's goroutine.
var (
	// ErrMalformedFrame means a binary frame did not decode into exactly one message.
	ErrMalformedFrame = protocol.ErrMalformedFrame
	// ErrAuthenticationFailure means the first frame was not a valid token.
	ErrAuthenticationFailure = errors.New("authentication failed")
	// ErrAuthenticationTimeout means no frame arrived before the handshake deadline.
	ErrAuthenticationTimeout = errors.New("authentication timed out")
	// ErrShuttingDown means the server began shutting down while the operation was pending.
	ErrShuttingDown = errors.New("server shutting down")
	// ErrProtocolViolation means the peer sent a frame type the session does not accept.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrSessionClosed means the session's connection has terminated.
	ErrSessionClosed = errors.New("session closed")
)

// Server errors. These are fatal to the whole process at startup.
var (
	ErrBind                 = errors.New("failed to bind listen address")
	ErrServerAlreadyRunning = errors.New("server already running")
)

// TransportError is an I/O failure on a connection's underlying stream.
type TransportError struct {
	// Op is the operation that failed, e.g. "read" or "write".
	Op string
	// Err is the error returned by the transport.
	Err error
	// Benign is true when the failure is an ordinary peer close.
	Benign bool
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the transport's error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsBenignClose reports whether the failure is an ordinary peer close that
// does not need to be logged.
func (e *TransportError) IsBenignClose() bool {
	return e.Benign
}

// IsBenignClose reports whether err, or any error it wraps, is a
// TransportError describing an ordinary peer close.
func IsBenignClose(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsBenignClose()
	}
	return false
}
