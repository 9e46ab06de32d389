package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EverCrawl/game"
)

const (
	// MaxFrameSize bounds a single inbound message.
	MaxFrameSize = 65536

	// DefaultAuthTimeout is how long a client has to send its token.
	DefaultAuthTimeout = time.Second

	// authFailureNotice is sent best-effort to clients that fail to authenticate.
	authFailureNotice = "Failed to authenticate"
)

// AuthState is the state of one connection's authentication handshake.
type AuthState int

const (
	AwaitingUpgrade AuthState = iota
	AwaitingCredentials
	Authenticated
	Failed
	TimedOut
	ShuttingDown
)

// String returns the state name. It doubles as the auth failure metric label.
func (s AuthState) String() string {
	switch s {
	case AwaitingUpgrade:
		return "awaiting_upgrade"
	case AwaitingCredentials:
		return "awaiting_credentials"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Handshake upgrades an HTTP request and authenticates the client by its
// first frame, which must be a text frame holding the token.
//
// gorilla/websocket writes frames synchronously on the caller's goroutine, so
// the only send queue in front of the transport is the connection's outbound
// queue.
type Handshake struct {
	Upgrader  websocket.Upgrader
	Validator game.Validator
	Timeout   time.Duration
}

type firstFrame struct {
	kind int
	data []byte
	err  error
}

// Authenticate runs the handshake. On success it returns the upgraded
// connection and the client's credentials with state Authenticated. On any
// other outcome the connection, if one was upgraded, is already closed.
//
// The handshake races ctx, the timeout and the first frame. Only a rejected
// token or a non-text first frame gets a notice.
func (h *Handshake) Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*websocket.Conn, game.Credentials, AuthState, error) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, game.Credentials{}, AwaitingUpgrade, fmt.Errorf("%w: upgrade: %w", game.ErrAuthenticationFailure, err)
	}
	conn.SetReadLimit(MaxFrameSize)

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	deadline := time.Now().Add(timeout)

	frames := make(chan firstFrame, 1)
	go func() {
		kind, data, err := conn.ReadMessage()
		frames <- firstFrame{kind: kind, data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var frame firstFrame
	select {
	case <-ctx.Done():
		conn.Close()
		return nil, game.Credentials{}, ShuttingDown, game.ErrShuttingDown
	case <-timer.C:
		conn.Close()
		return nil, game.Credentials{}, TimedOut, game.ErrAuthenticationTimeout
	case frame = <-frames:
	}

	if frame.err != nil {
		conn.Close()
		return nil, game.Credentials{}, Failed, fmt.Errorf("%w: %w", game.ErrAuthenticationFailure, transportError("read", frame.err))
	}

	if frame.kind != websocket.TextMessage {
		rejectCredentials(conn)
		return nil, game.Credentials{}, Failed, fmt.Errorf("%w: first frame is not text", game.ErrAuthenticationFailure)
	}

	validateCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	creds, err := h.Validator.Validate(validateCtx, string(frame.data))
	switch {
	case err == nil:
		return conn, creds, Authenticated, nil
	case ctx.Err() != nil:
		conn.Close()
		return nil, game.Credentials{}, ShuttingDown, game.ErrShuttingDown
	case errors.Is(err, context.DeadlineExceeded):
		conn.Close()
		return nil, game.Credentials{}, TimedOut, fmt.Errorf("%w: %w", game.ErrAuthenticationTimeout, err)
	case errors.Is(err, game.ErrAuthenticationFailure):
		rejectCredentials(conn)
		return nil, game.Credentials{}, Failed, err
	default:
		rejectCredentials(conn)
		return nil, game.Credentials{}, Failed, fmt.Errorf("%w: %w", game.ErrAuthenticationFailure, err)
	}
}

// rejectCredentials sends the failure notice and closes conn. Send errors are
// ignored.
func rejectCredentials(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(authFailureNotice))
	conn.Close()
}
