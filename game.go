package game

import (
	"context"

	"github.com/EverCrawl/game/internal/protocol"
)

// Message is one application-level unit received from a client.
//
// Messages are decoded from binary frames using the wire format:
//
//	[2 bytes: ID (uint16, little-endian)][2 bytes: Size (uint16, little-endian)][Size bytes: Payload]
type Message = protocol.Message

// Build encodes one message. It fails if payload exceeds 65535 bytes.
func Build(id uint16, payload []byte) ([]byte, error) {
	return protocol.Build(id, payload)
}

// Parse decodes one message from a binary frame. The payload references data.
func Parse(data []byte) (Message, error) {
	return protocol.Parse(data)
}

// Credentials identify the client behind an authenticated connection.
//
// Credentials are produced once per connection by a Validator and stay
// unchanged for the lifetime of the session.
type Credentials struct {
	// Token is the opaque token the client authenticated with.
	Token string
}

// Validator converts the token a client sends as its first text frame into
// Credentials.
//
// Implementations return an error wrapping ErrAuthenticationFailure when the
// token is not valid. Any other error also fails the handshake.
//
// Example:
//
//	validator := ValidatorFunc(func(ctx context.Context, token string) (Credentials, error) {
//	    if token != "secret" {
//	        return Credentials{}, ErrAuthenticationFailure
//	    }
//	    return Credentials{Token: token}, nil
//	})
type Validator interface {
	// Validate checks the token and returns the Credentials it stands for.
	//
	// Validate is called from the connection's own goroutine while the
	// handshake deadline is running; ctx is cancelled on server shutdown.
	Validate(ctx context.Context, token string) (Credentials, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, token string) (Credentials, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, token string) (Credentials, error) {
	return f(ctx, token)
}

// Session is the game loop's view of one authenticated, live connection.
//
// A Session is only used from the tick goroutine. Its methods never touch the
// network: they move data through the bounded queues the connection drains
// and fills.
type Session interface {
	// ID returns the connection id. Ids are assigned at accept time and are
	// never reused while the server runs.
	ID() uint32

	// Credentials returns the credentials the client authenticated with.
	Credentials() Credentials

	// Send queues encoded message bytes for delivery, blocking until the
	// outbound queue has room.
	//
	// Returns ErrSessionClosed if the connection has terminated, in which
	// case the data is discarded.
	//
	// Example:
	//
	//	data, _ := game.Build(0x01, []byte("hello"))
	//	if err := session.Send(data); err != nil {
	//	    // connection is gone
	//	}
	Send(data []byte) error

	// TrySend queues encoded message bytes without blocking. It returns
	// false if the outbound queue is full or the connection has terminated;
	// the caller keeps ownership of data and may retry.
	TrySend(data []byte) bool

	// Recv returns one already-buffered inbound message, if any. It never
	// blocks.
	Recv() (Message, bool)
}

// Handler processes one inbound message on the tick goroutine.
//
// Handlers run synchronously inside a tick: a slow handler delays the tick
// for every session.
//
// Example:
//
//	server.RegisterHandler(0x0001, func(s Session, msg Message) {
//	    data, _ := Build(msg.ID(), msg.Payload())
//	    s.Send(data)
//	})
type Handler func(s Session, msg Message)
