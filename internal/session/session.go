// Package session holds the game-loop-facing side of a connection: the
// Session handle, the bounded queues it shares with its connection actor,
// and the Connected/Disconnected events published to the tick loop.
package session

import (
	"context"
	"sync"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/protocol"
)

// Queue capacities.
const (
	EventCapacity    = 4
	InboundCapacity  = 4
	OutboundCapacity = 1
)

// Event is a session lifecycle notification, either Connected or Disconnected.
type Event interface {
	sessionEvent()
}

// Connected is published once by a connection actor when it starts.
type Connected struct {
	Session *Handle
}

// Disconnected is published by a connection actor when its peer closes cleanly.
type Disconnected struct {
	ID uint32
}

func (Connected) sessionEvent()    {}
func (Disconnected) sessionEvent() {}

// NewEventQueue creates the bounded queue connection actors publish to and
// the tick loop drains.
func NewEventQueue() chan Event {
	return make(chan Event, EventCapacity)
}

// Publish pushes ev onto events, blocking until there is room or ctx is done.
func Publish(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queues are the two bounded channels shared by one connection actor and its
// Handle. The actor writes Inbound and reads Outbound; the Handle does the
// opposite.
type Queues struct {
	Inbound  chan protocol.Message
	Outbound chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

// NewQueues allocates the per-connection queues.
func NewQueues() *Queues {
	return &Queues{
		Inbound:  make(chan protocol.Message, InboundCapacity),
		Outbound: make(chan []byte, OutboundCapacity),
		done:     make(chan struct{}),
	}
}

// Push delivers msg to the inbound queue, blocking while it is full. It
// returns ctx's error if ctx is done first.
func (q *Queues) Push(ctx context.Context, msg protocol.Message) error {
	select {
	case q.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the owning connection as terminated. Pending and future Sends
// on any Handle for these queues return game.ErrSessionClosed.
func (q *Queues) Close() {
	q.doneOnce.Do(func() { close(q.done) })
}

// Handle returns the Session for these queues.
func (q *Queues) Handle(id uint32, credentials game.Credentials) *Handle {
	return &Handle{
		id:          id,
		credentials: credentials,
		out:         q.Outbound,
		in:          q.Inbound,
		done:        q.done,
	}
}

// Handle implements game.Session over a connection's queues.
type Handle struct {
	id          uint32
	credentials game.Credentials
	out         chan<- []byte
	in          <-chan protocol.Message
	done        <-chan struct{}
}

var _ game.Session = (*Handle)(nil)

// ID implements game.Session.
func (h *Handle) ID() uint32 {
	return h.id
}

// Credentials implements game.Session.
func (h *Handle) Credentials() game.Credentials {
	return h.credentials
}

// Send implements game.Session. It blocks until the connection actor has room
// for data or the connection terminates.
func (h *Handle) Send(data []byte) error {
	select {
	case <-h.done:
		return game.ErrSessionClosed
	default:
	}

	select {
	case h.out <- data:
		return nil
	case <-h.done:
		return game.ErrSessionClosed
	}
}

// TrySend implements game.Session. It also returns false once the connection
// has terminated.
func (h *Handle) TrySend(data []byte) bool {
	if h.Closed() {
		return false
	}

	select {
	case h.out <- data:
		return true
	default:
		return false
	}
}

// Recv implements game.Session.
func (h *Handle) Recv() (protocol.Message, bool) {
	select {
	case msg := <-h.in:
		return msg, true
	default:
		return protocol.Message{}, false
	}
}

// Closed reports whether the connection behind the handle has terminated.
func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
