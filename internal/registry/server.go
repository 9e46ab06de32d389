// Package registry owns every live session and runs the fixed-rate tick loop
// that feeds them to game logic.
//
// The tick loop runs on one locked OS thread and never touches the network.
// It talks to connection actors only through the session event queue and
// each session's bounded queues.
package registry

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/internal/metrics"
	"github.com/EverCrawl/game/internal/protocol"
	"github.com/EverCrawl/game/internal/session"
	"github.com/EverCrawl/game/internal/shutdown"
)

// DefaultTickRate is the target number of ticks per second.
const DefaultTickRate = 30

// ErrNilHandler is returned when registering a nil handler.
var ErrNilHandler = errors.New("handler must not be nil")

// Server is the session registry and tick loop. Apart from New and
// RegisterHandler, its methods must only be called from the tick goroutine,
// which includes handlers.
type Server struct {
	events   <-chan session.Event
	sessions map[uint32]*session.Handle
	handlers map[uint16]game.Handler
	fallback game.Handler
	period   time.Duration
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// New creates a registry that drains events and ticks every period. A
// non-positive period uses DefaultTickRate.
func New(events <-chan session.Event, period time.Duration, log logger.Logger, m *metrics.Metrics) *Server {
	if period <= 0 {
		period = time.Second / DefaultTickRate
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Server{
		events:   events,
		sessions: make(map[uint32]*session.Handle),
		handlers: make(map[uint16]game.Handler),
		fallback: Echo,
		period:   period,
		logger:   log.With(logger.Field{Key: "component", Value: "registry"}),
		metrics:  m,
	}
}

// RegisterHandler routes messages with the given id to handler. Messages
// without a handler are echoed back. It must be called before Run.
func (s *Server) RegisterHandler(id uint16, handler game.Handler) error {
	if handler == nil {
		return fmt.Errorf("message %d: %w", id, ErrNilHandler)
	}
	s.handlers[id] = handler
	return nil
}

// Run ticks until sig is stopped. It locks the calling goroutine to its OS
// thread for the duration and paces ticks by polling the wall clock.
func (s *Server) Run(sig *shutdown.Signal) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.logger.Info("tick loop started", logger.Field{Key: "period", Value: s.period.String()})

	last := time.Now()
	for !sig.Stopped() {
		now := time.Now()
		if now.Sub(last) < s.period {
			runtime.Gosched()
			continue
		}
		last = now

		s.Tick()
	}

	s.logger.Info("tick loop stopped", logger.Field{Key: "sessions", Value: len(s.sessions)})
	return nil
}

// Tick applies every pending session event, then drains and dispatches every
// buffered inbound message of every session.
func (s *Server) Tick() {
	start := time.Now()

	s.drainEvents()

	for _, sess := range s.sessions {
		for {
			msg, ok := sess.Recv()
			if !ok {
				break
			}
			s.dispatch(sess, msg)
		}
	}

	s.metrics.SetSessions(len(s.sessions))
	s.metrics.ObserveTick(time.Since(start).Seconds())
}

func (s *Server) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		default:
			return
		}
	}
}

func (s *Server) apply(ev session.Event) {
	switch ev := ev.(type) {
	case session.Connected:
		s.sessions[ev.Session.ID()] = ev.Session
		s.logger.Debug("session registered", logger.Field{Key: "conn_id", Value: ev.Session.ID()})
	case session.Disconnected:
		if _, ok := s.sessions[ev.ID]; ok {
			delete(s.sessions, ev.ID)
			s.logger.Debug("session removed", logger.Field{Key: "conn_id", Value: ev.ID})
		}
	}
}

func (s *Server) dispatch(sess game.Session, msg game.Message) {
	if handler, ok := s.handlers[msg.ID()]; ok {
		handler(sess, msg)
		return
	}
	s.fallback(sess, msg)
}

// Session returns the registered session with the given id.
func (s *Server) Session(id uint32) (game.Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess, true
}

// Len returns the number of registered sessions.
func (s *Server) Len() int {
	return len(s.sessions)
}

// Broadcast queues one message for every registered session without
// blocking. It returns how many sessions accepted it; sessions with a full
// outbound queue are skipped.
func (s *Server) Broadcast(id uint16, payload []byte) (int, error) {
	data, err := protocol.Build(id, payload)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sess := range s.sessions {
		if sess.TrySend(data) {
			sent++
		}
	}
	return sent, nil
}

// Echo sends msg back to the session it came from. A session whose
// connection is gone drops the reply.
func Echo(sess game.Session, msg game.Message) {
	data, err := protocol.Build(msg.ID(), msg.Payload())
	if err != nil {
		return
	}
	_ = sess.Send(data)
}
