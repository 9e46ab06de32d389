// Package ws assembles the acceptor, the session registry and the database
// worker into one runnable game server.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/auth"
	"github.com/EverCrawl/game/internal/config"
	"github.com/EverCrawl/game/internal/db"
	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/internal/metrics"
	"github.com/EverCrawl/game/internal/registry"
	"github.com/EverCrawl/game/internal/session"
	"github.com/EverCrawl/game/internal/shutdown"
	"github.com/EverCrawl/game/internal/websocket"
)

type Config = config.Config
type Logger = logger.Logger
type Handler = game.Handler
type Session = game.Session
type Message = game.Message
type Query = db.Query
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn

// ErrNoDatabase is returned by Submit when no database is configured.
var ErrNoDatabase = errors.New("no database configured")

// Server is a complete game server.
type Server struct {
	cfg       *Config
	logger    logger.Logger
	metrics   *metrics.Metrics
	acceptor  *websocket.Server
	registry  *registry.Server
	database  *db.Database
	closeAuth func() error

	mu      sync.Mutex
	running bool
	sig     *shutdown.Signal
}

// New builds a server from cfg. Nothing is bound or connected until Run.
//
// Example:
//
//	cfg := ws.DefaultConfig()
//	server, err := ws.New(cfg, logger.NewStdout("evercrawl", "pretty", "info"))
//	if err != nil {
//	    return err
//	}
//	return server.Run(ctx)
func New(cfg *Config, log Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	m := metrics.New()

	var database *db.Database
	if cfg.Database.Driver != "" {
		database = db.New(cfg.Database, log)
	}

	validator, closeAuth, err := auth.FromConfig(cfg.Auth, database, log)
	if err != nil {
		return nil, err
	}

	routes := map[string]http.Handler{}
	if cfg.Server.MetricsPath != "" {
		routes[cfg.Server.MetricsPath] = m.Handler()
	}

	checkOrigin := AllOrigins()
	if cfg.Server.CheckOrigin {
		checkOrigin = nil
	}

	rateLimit := NoRateLimit()
	if cfg.RateLimit.Enabled {
		rateLimit = &RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           true,
		}
	}

	events := session.NewEventQueue()

	return &Server{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		acceptor: websocket.New(&websocket.ServerConfig{
			Addr:             cfg.Server.Address,
			Path:             cfg.Server.Path,
			MaxClients:       cfg.Server.MaxClients,
			AdmissionBackoff: cfg.Server.AdmissionBackoff.Std(),
			AuthTimeout:      cfg.Server.AuthTimeout.Std(),
			RateLimitConfig:  rateLimit,
			CheckOrigin:      checkOrigin,
			Validator:        validator,
			Events:           events,
			Routes:           routes,
			Logger:           log,
			Metrics:          m,
		}),
		registry:  registry.New(events, cfg.Server.TickPeriod(), log, m),
		database:  database,
		closeAuth: closeAuth,
	}, nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a TOML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// RegisterHandler routes messages with the given id to handler on the tick
// goroutine. Unhandled ids are echoed back. It must be called before Run.
func (s *Server) RegisterHandler(id uint16, handler Handler) error {
	return s.registry.RegisterHandler(id, handler)
}

// Broadcast queues a message for every session without blocking and returns
// how many accepted it. It must be called from a handler.
func (s *Server) Broadcast(id uint16, payload []byte) (int, error) {
	return s.registry.Broadcast(id, payload)
}

// Submit queues query on the database worker. It blocks while the queue is
// full.
func (s *Server) Submit(ctx context.Context, query Query) error {
	if s.database == nil {
		return ErrNoDatabase
	}
	return s.database.Submit(ctx, query)
}

// Run connects the database, binds the listen address and serves until ctx
// is done, Stop is called, or a component fails. Startup failures are
// returned before anything is served.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return game.ErrServerAlreadyRunning
	}
	s.running = true
	sig := shutdown.New(ctx)
	s.sig = sig
	s.mu.Unlock()

	defer sig.Stop()
	defer func() {
		if err := s.closeAuth(); err != nil {
			s.logger.Warn("closing credential validator", logger.Err(err))
		}
	}()

	if s.database != nil {
		if err := s.database.Open(ctx); err != nil {
			return err
		}
	}

	if err := s.acceptor.Listen(); err != nil {
		if s.database != nil {
			s.database.Close()
		}
		return err
	}

	g, gctx := errgroup.WithContext(sig.Context())
	stop := context.AfterFunc(gctx, sig.Stop)
	defer stop()

	if s.database != nil {
		g.Go(func() error { return s.database.Run(gctx) })
	}
	g.Go(func() error { return s.acceptor.Serve(gctx) })
	g.Go(func() error { return s.registry.Run(sig) })

	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}

// Stop begins shutdown of a running server.
func (s *Server) Stop() {
	s.mu.Lock()
	sig := s.sig
	s.mu.Unlock()

	if sig != nil {
		sig.Stop()
	}
}

// Addr returns the bound listen address, or nil before Run has bound it.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Ready is closed once the listen address is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.acceptor.Ready()
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
