package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/internal/metrics"
	"github.com/EverCrawl/game/internal/session"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// A nil CheckOriginFn rejects cross-origin requests.
type CheckOriginFn = func(r *http.Request) bool

// Acceptor defaults.
const (
	DefaultMaxClients       = 4
	DefaultAdmissionBackoff = time.Second
	DefaultPath             = "/ws"

	shutdownTimeout = 5 * time.Second
)

// ServerConfig configures the acceptor.
type ServerConfig struct {
	// Addr is the listen address, e.g. "0.0.0.0:8080".
	Addr string
	// Path is the WebSocket route. Defaults to DefaultPath.
	Path string
	// MaxClients bounds the number of live connections.
	MaxClients int
	// AdmissionBackoff is how long accept pauses once MaxClients is reached.
	AdmissionBackoff time.Duration
	// AuthTimeout bounds the authentication handshake.
	AuthTimeout     time.Duration
	RateLimitConfig *RateLimitConfig
	CheckOrigin     CheckOriginFn
	Validator       game.Validator
	// Events receives Connected and Disconnected for every session.
	Events chan<- session.Event
	// Routes are extra HTTP handlers served on the same listener, e.g. metrics.
	Routes map[string]http.Handler

	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server is the acceptor. It admits connections, runs the authentication
// handshake on each, and hands authenticated ones to a Socket.
type Server struct {
	cfg       ServerConfig
	handshake Handshake
	logger    logger.Logger
	metrics   *metrics.Metrics

	live  atomic.Int64
	ids   atomic.Uint32
	conns sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	ctx      context.Context
	ready    chan struct{}
}

// New creates an acceptor. Zero values in cfg fall back to the package
// defaults; Validator and Events are required.
//
// Example:
//
//	events := session.NewEventQueue()
//	server := New(&ServerConfig{
//	    Addr:      ":8080",
//	    Validator: auth.Static{},
//	    Events:    events,
//	    Logger:    log,
//	})
func New(cfg *ServerConfig) *Server {
	c := *cfg
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.MaxClients < 1 {
		c.MaxClients = DefaultMaxClients
	}
	if c.AdmissionBackoff <= 0 {
		c.AdmissionBackoff = DefaultAdmissionBackoff
	}
	if c.RateLimitConfig == nil {
		c.RateLimitConfig = DefaultRateLimitConfig()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Server{
		cfg: c,
		handshake: Handshake{
			Upgrader: websocket.Upgrader{
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				CheckOrigin:     c.CheckOrigin,
			},
			Validator: c.Validator,
			Timeout:   c.AuthTimeout,
		},
		logger:  c.Logger.With(logger.Field{Key: "component", Value: "acceptor"}),
		metrics: c.Metrics,
		ready:   make(chan struct{}),
	}
}

// Listen binds the listen address. A failure wraps game.ErrBind.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return game.ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w %s: %w", game.ErrBind, s.cfg.Addr, err)
	}

	s.listener = ln
	close(s.ready)
	s.logger.Info("listening",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "path", Value: s.cfg.Path},
		logger.Field{Key: "max_clients", Value: s.cfg.MaxClients},
	)
	return nil
}

// Serve accepts connections on the bound listener until ctx is done, then
// stops accepting and waits for every connection to finish. Listen must have
// succeeded.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return errors.New("acceptor is not listening")
	}
	if s.server != nil {
		s.mu.Unlock()
		return game.ErrServerAlreadyRunning
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	for path, handler := range s.cfg.Routes {
		mux.Handle(path, handler)
	}

	s.ctx = ctx
	s.server = &http.Server{
		Handler:           mux,
		ConnContext:       withConnID,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln := &admissionListener{
		Listener: s.listener,
		live:     &s.live,
		max:      int64(s.cfg.MaxClients),
		backoff:  s.cfg.AdmissionBackoff,
		ids:      &s.ids,
		done:     ctx.Done(),
		logger:   s.logger,
	}
	server := s.server
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errChan:
		if ctx.Err() == nil {
			serveErr = fmt.Errorf("accept loop stopped: %w", err)
		}
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("http shutdown", logger.Err(err))
	}

	s.conns.Wait()
	s.logger.Info("acceptor stopped")
	return serveErr
}

// Run binds the listen address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once the listen address is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Live returns the number of authenticated connections currently running.
func (s *Server) Live() int64 {
	return s.live.Load()
}

// handleWebSocket runs the handshake and, on success, the connection actor
// on the request's goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	defer s.conns.Done()

	id, _ := ConnID(r.Context())
	log := s.logger.With(
		logger.Field{Key: "conn_id", Value: id},
		logger.Field{Key: "peer", Value: r.RemoteAddr},
	)
	s.metrics.ConnectionAccepted()

	conn, creds, state, err := s.handshake.Authenticate(s.ctx, w, r)
	if err != nil {
		if state == ShuttingDown {
			log.Debug("handshake aborted by shutdown")
			return
		}
		s.metrics.AuthFailed(state.String())
		log.Warn("authentication failed", logger.Field{Key: "state", Value: state.String()}, logger.Err(err))
		return
	}

	s.live.Add(1)
	s.metrics.ConnectionOpened()
	defer func() {
		s.live.Add(-1)
		s.metrics.ConnectionClosed()
	}()

	log.Info("client authenticated")

	socket := NewSocket(id, r.RemoteAddr, conn, creds, s.cfg.RateLimitConfig, log, s.metrics)
	err = socket.Run(s.ctx, s.cfg.Events)

	switch {
	case err == nil:
		log.Info("connection closed")
	case game.IsBenignClose(err):
		log.Debug("connection dropped", logger.Err(err))
	case errors.Is(err, game.ErrProtocolViolation), errors.Is(err, game.ErrMalformedFrame):
		log.Warn("connection terminated", logger.Err(err))
	default:
		log.Error("connection failed", logger.Err(err))
	}
}
