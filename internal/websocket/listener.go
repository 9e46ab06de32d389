package websocket

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/EverCrawl/game/internal/logger"
)

// LiveCounter reports how many connections are currently live.
type LiveCounter interface {
	Load() int64
}

type connIDKey struct{}

// ConnID returns the connection id the acceptor attached to ctx.
func ConnID(ctx context.Context) (uint32, bool) {
	id, ok := ctx.Value(connIDKey{}).(uint32)
	return id, ok
}

// withConnID attaches the id of c to ctx. It is used as http.Server.ConnContext.
func withConnID(ctx context.Context, c net.Conn) context.Context {
	if ic, ok := c.(*identifiedConn); ok {
		return context.WithValue(ctx, connIDKey{}, ic.id)
	}
	return ctx
}

// identifiedConn is an accepted connection and the id it was assigned.
type identifiedConn struct {
	net.Conn
	id uint32
}

// admissionListener applies admission control in front of a net.Listener.
// While live is at or above max it does not call Accept, and re-checks after
// backoff. Accepted TCP connections get Nagle's algorithm disabled and a
// sequential id.
type admissionListener struct {
	net.Listener
	live    LiveCounter
	max     int64
	backoff time.Duration
	ids     *atomic.Uint32
	done    <-chan struct{}
	logger  logger.Logger
}

// Accept implements net.Listener.
func (l *admissionListener) Accept() (net.Conn, error) {
	for {
		if err := l.admit(); err != nil {
			return nil, err
		}

		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if conn.RemoteAddr() == nil {
			l.logger.Debug("dropping connection without peer address")
			conn.Close()
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				l.logger.Debug("failed to disable nagle", logger.Err(err))
			}
		}

		return &identifiedConn{Conn: conn, id: l.ids.Add(1) - 1}, nil
	}
}

// admit blocks while the server is full.
func (l *admissionListener) admit() error {
	logged := false
	for l.live.Load() >= l.max {
		if !logged {
			l.logger.Debug("connection limit reached, pausing accept", logger.Field{Key: "max_clients", Value: l.max})
			logged = true
		}

		timer := time.NewTimer(l.backoff)
		select {
		case <-l.done:
			timer.Stop()
			return net.ErrClosed
		case <-timer.C:
		}
	}
	return nil
}
