package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/internal/metrics"
	"github.com/EverCrawl/game/internal/protocol"
	"github.com/EverCrawl/game/internal/session"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent, pongs included.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// inboundFrame is one result of reading the connection.
type inboundFrame struct {
	kind int
	data []byte
	err  error
}

// Socket is the connection actor: it owns one authenticated connection and
// moves frames between it and the connection's session queues.
type Socket struct {
	id          uint32
	peer        string
	trace       uuid.UUID
	credentials game.Credentials
	conn        *websocket.Conn
	queues      *session.Queues
	rateLimiter *rate.Limiter // nil when rate limiting is disabled
	logger      logger.Logger
	metrics     *metrics.Metrics
}

// NewSocket creates the actor for an authenticated connection. It does not
// start any goroutine; call Run.
func NewSocket(id uint32, peer string, conn *websocket.Conn, credentials game.Credentials, rateLimitConfig *RateLimitConfig, log logger.Logger, m *metrics.Metrics) *Socket {
	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	trace := uuid.New()
	return &Socket{
		id:          id,
		peer:        peer,
		trace:       trace,
		credentials: credentials,
		conn:        conn,
		queues:      session.NewQueues(),
		rateLimiter: limiter,
		logger:      log.With(logger.Field{Key: "trace", Value: trace.String()}),
		metrics:     m,
	}
}

// ID returns the connection id.
func (s *Socket) ID() uint32 {
	return s.id
}

// Peer returns the peer address.
func (s *Socket) Peer() string {
	return s.peer
}

// Run publishes Connected for the socket's session and then serves the
// connection until ctx is done, the peer closes, or the connection fails.
//
// A clean close by the peer publishes Disconnected and returns nil. Transport
// failures return a *game.TransportError and publish nothing, so the session
// stays registered until the tick loop notices otherwise. Run always closes
// the connection before returning.
func (s *Socket) Run(ctx context.Context, events chan<- session.Event) error {
	defer s.conn.Close()
	defer s.queues.Close()

	if err := session.Publish(ctx, events, session.Connected{Session: s.queues.Handle(s.id, s.credentials)}); err != nil {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		return nil
	}
	s.logger.Debug("session connected")

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	frames := make(chan inboundFrame)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go s.readPump(frames, stop, readerDone)
	defer func() {
		close(stop)
		s.conn.Close()
		<-readerDone
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
			return nil

		case frame := <-frames:
			done, err := s.handleFrame(ctx, events, frame)
			if done || err != nil {
				return err
			}

		case data := <-s.queues.Outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return transportError("write", err)
			}
			s.metrics.MessageSent()

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return transportError("ping", err)
			}
		}
	}
}

// handleFrame processes one read result. It reports done when the actor
// should stop without an error.
func (s *Socket) handleFrame(ctx context.Context, events chan<- session.Event, frame inboundFrame) (bool, error) {
	if frame.err != nil {
		var closeErr *websocket.CloseError
		if errors.As(frame.err, &closeErr) {
			s.logger.Debug("peer closed connection", logger.Field{Key: "code", Value: closeErr.Code})
			_ = session.Publish(ctx, events, session.Disconnected{ID: s.id})
			return true, nil
		}
		return false, transportError("read", frame.err)
	}

	if frame.kind != websocket.BinaryMessage {
		return false, fmt.Errorf("%w: unexpected frame type %d", game.ErrProtocolViolation, frame.kind)
	}

	if s.rateLimiter != nil && !s.rateLimiter.Allow() {
		s.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
		return false, fmt.Errorf("%w: rate limit exceeded", game.ErrProtocolViolation)
	}

	msg, err := protocol.Parse(frame.data)
	if err != nil {
		return false, err
	}

	if err := s.queues.Push(ctx, msg); err != nil {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		return true, nil
	}
	s.metrics.MessageReceived()
	return false, nil
}

// readPump reads frames until the connection fails, handing each to the
// actor loop. It exits when the actor closes stop.
func (s *Socket) readPump(frames chan<- inboundFrame, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err == nil {
			s.conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		select {
		case frames <- inboundFrame{kind: kind, data: data, err: err}:
		case <-stop:
			return
		}

		if err != nil {
			return
		}
	}
}

// closeWith sends a close frame. Errors are ignored; the connection is closed
// by Run either way.
func (s *Socket) closeWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}
