package websocket

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/protocol"
	"github.com/EverCrawl/game/internal/session"
)

func TestSocketPeerCloseDisconnects(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn, handle := h.login(t, "player")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	assert.Equal(t, session.Disconnected{ID: handle.ID()}, h.nextEvent(t))
}

func TestSocketMalformedFrameDropsConnection(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn, handle := h.login(t, "player")

	// Header declares five payload bytes, three follow.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x2a, 0x00, 0x05, 0x00, 1, 2, 3}))

	expectDropped(t, conn)
	h.assertNoEvent(t, 100*time.Millisecond)

	_, ok := handle.Recv()
	assert.False(t, ok)

	require.Eventually(t, handle.Closed, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, handle.Send([]byte{0}), game.ErrSessionClosed)
}

func TestSocketTextFrameIsProtocolViolation(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn, handle := h.login(t, "player")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	expectDropped(t, conn)
	h.assertNoEvent(t, 100*time.Millisecond)
	require.Eventually(t, handle.Closed, 2*time.Second, 10*time.Millisecond)
}

func TestSocketRateLimitClosesWithPolicyViolation(t *testing.T) {
	t.Parallel()

	h := startServer(t, func(cfg *ServerConfig) {
		cfg.RateLimitConfig = &RateLimitConfig{MessagesPerSecond: 1, Burst: 1, Enabled: true}
	})
	conn, _ := h.login(t, "player")

	frame, err := protocol.Build(1, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	h.assertNoEvent(t, 100*time.Millisecond)
}

func TestSocketPreservesInboundOrder(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn, handle := h.login(t, "player")

	const count = 10
	go func() {
		for i := 0; i < count; i++ {
			frame, _ := protocol.Build(uint16(i), []byte{byte(i)})
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	for want := 0; want < count; want++ {
		var msg protocol.Message
		require.Eventually(t, func() bool {
			var ok bool
			msg, ok = handle.Recv()
			return ok
		}, 2*time.Second, time.Millisecond)
		assert.Equal(t, uint16(want), msg.ID())
	}
}

func TestIsBenignClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"close frame", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"abnormal close", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"close sent", websocket.ErrCloseSent, true},
		{"eof", io.EOF, true},
		{"closed socket", net.ErrClosed, true},
		{"reset", syscall.ECONNRESET, true},
		{"other", errors.New("i/o timeout"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := transportError("read", tt.err)
			assert.Equal(t, tt.want, err.IsBenignClose())
			assert.Equal(t, tt.want, game.IsBenignClose(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
