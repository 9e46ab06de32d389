// Package game is the network and session core of a tick-driven multiplayer server.
//
// It accepts WebSocket connections, authenticates each one under a deadline, frames a
// small binary protocol over the connection and hands decoded messages to a single
// authoritative game loop through bounded queues.
//
// # Architecture
//
// Two concurrency domains are connected only by bounded channels:
//
//   - The I/O domain runs the acceptor and, per connection, one authentication
//     handshake followed by one connection actor (internal/websocket).
//   - The tick domain is one goroutine locked to its own OS thread that owns every
//     Session and runs the game loop at a fixed rate (internal/registry).
//
// A connection actor publishes a Connected event when its handshake succeeds and a
// Disconnected event when the peer closes cleanly. The tick loop drains those events
// and every session's inbound queue once per tick.
//
// # Quick Start
//
//	import (
//	    "github.com/EverCrawl/game"
//	    "github.com/EverCrawl/game/ws"
//	)
//
//	cfg := ws.DefaultConfig()
//	cfg.Server.Address = ":8080"
//
//	server, err := ws.New(cfg, log)
//	if err != nil {
//	    return err
//	}
//
//	// Messages without a handler are echoed back.
//	server.RegisterHandler(0x0001, func(s game.Session, msg game.Message) {
//	    data, _ := game.Build(0x0001, []byte("pong"))
//	    s.Send(data)
//	})
//
//	return server.Run(ctx)
//
// # Protocol Format
//
// A client first sends its token as a single text frame. It has one second to do so.
// After that every binary frame carries exactly one message:
//
//	[2 bytes: ID (uint16, LE)][2 bytes: Size (uint16, LE)][Size bytes: Payload]
//
// A frame whose length is not 4 + Size is rejected and the connection is dropped.
// Text frames after authentication are a protocol violation.
//
// # Admission Control
//
// At most MaxClients connections are live at once (default 4). When the limit is
// reached the acceptor stops calling accept and re-checks once per second.
//
// # Backpressure
//
//   - Session events: 4 slots
//   - Inbound messages per connection: 4 slots
//   - Outbound buffers per connection: 1 slot
//
// A full queue blocks the producer. Nothing is dropped. A connection whose inbound
// queue is full stops reading from its socket until the tick loop drains it.
//
// # Shutdown
//
// A single shutdown signal is observed by every loop: the acceptor, each handshake,
// each connection actor and the tick loop. Cancelling the context passed to Run, or
// calling Stop, fires it once.
//
// # Important
//
//   - Handlers run on the tick goroutine; never block in them except through Session.Send
//   - A connection that fails at the transport level does not publish Disconnected;
//     its session stays registered until the process restarts (Send returns ErrSessionClosed)
//   - Decoded payloads reference the frame buffer; do not modify them
package game
