package websocket

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/EverCrawl/game"
)

// transportError wraps a gorilla or socket error into the connection error
// taxonomy.
func transportError(op string, err error) *game.TransportError {
	return &game.TransportError{Op: op, Err: err, Benign: isBenignClose(err)}
}

// isBenignClose reports whether err is an ordinary end of a connection: a
// close handshake, an already-closed socket, or a peer reset without one.
func isBenignClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}

	return errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
