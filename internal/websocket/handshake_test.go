package websocket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EverCrawl/game"
)

func TestAuthStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state AuthState
		want  string
	}{
		{AwaitingUpgrade, "awaiting_upgrade"},
		{AwaitingCredentials, "awaiting_credentials"},
		{Authenticated, "authenticated"},
		{Failed, "failed"},
		{TimedOut, "timed_out"},
		{ShuttingDown, "shutting_down"},
		{AuthState(42), "AuthState(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

// expectDropped reads from conn until it fails and checks the failure is a
// closed connection rather than the local read deadline.
func expectDropped(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection was not closed: %v", err)
		}
		return
	}
}

func TestAuthenticationTimeout(t *testing.T) {
	t.Parallel()

	h := startServer(t, func(cfg *ServerConfig) {
		cfg.AuthTimeout = 100 * time.Millisecond
	})

	conn := h.dial(t)
	expectDropped(t, conn)

	h.assertNoEvent(t, 100*time.Millisecond)
	assert.Equal(t, int64(0), h.server.Live())
}

func TestAuthenticationNonTextFrame(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("player")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, authFailureNotice, string(data))

	expectDropped(t, conn)
	h.assertNoEvent(t, 50*time.Millisecond)
}

func TestAuthenticationRejectedToken(t *testing.T) {
	t.Parallel()

	h := startServer(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bad")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, authFailureNotice, string(data))

	h.assertNoEvent(t, 50*time.Millisecond)
	assert.Equal(t, int64(0), h.server.Live())
}

func TestAuthenticationSlowValidatorTimesOut(t *testing.T) {
	t.Parallel()

	h := startServer(t, func(cfg *ServerConfig) {
		cfg.AuthTimeout = 100 * time.Millisecond
		cfg.Validator = game.ValidatorFunc(func(ctx context.Context, _ string) (game.Credentials, error) {
			<-ctx.Done()
			return game.Credentials{}, ctx.Err()
		})
	})

	conn := h.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("player")))

	expectDropped(t, conn)
	h.assertNoEvent(t, 50*time.Millisecond)
}

func TestAuthenticationRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	h := startServer(t, func(cfg *ServerConfig) {
		cfg.CheckOrigin = nil
	})

	header := map[string][]string{"Origin": {"http://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(h.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
