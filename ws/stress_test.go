package ws_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EverCrawl/game"
	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/ws"
)

// TestStressConcurrentSessions runs many clients against one server and
// checks every echo comes back in send order.
func TestStressConcurrentSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const (
		numClients        = 32
		messagesPerClient = 50
	)

	cfg := testConfig()
	cfg.Server.MaxClients = numClients
	cfg.Server.TickRate = 120
	cfg.RateLimit.Enabled = false

	server, err := ws.New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	run(t, server)

	var (
		messagesReceived int64
		failures         int64
		wg               sync.WaitGroup
	)

	startTime := time.Now()

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			conn, _, err := websocket.DefaultDialer.Dial("ws://"+server.Addr().String()+"/ws", nil)
			if err != nil {
				t.Errorf("client %d: failed to connect: %v", clientID, err)
				atomic.AddInt64(&failures, 1)
				return
			}
			defer conn.Close()

			if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("user_%d", clientID))); err != nil {
				atomic.AddInt64(&failures, 1)
				return
			}

			for j := 0; j < messagesPerClient; j++ {
				frame, _ := game.Build(uint16(j), []byte(fmt.Sprintf("message %d from client %d", j, clientID)))
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					t.Errorf("client %d: send failed: %v", clientID, err)
					atomic.AddInt64(&failures, 1)
					return
				}

				conn.SetReadDeadline(time.Now().Add(10 * time.Second))
				_, data, err := conn.ReadMessage()
				if err != nil {
					t.Errorf("client %d: read failed: %v", clientID, err)
					atomic.AddInt64(&failures, 1)
					return
				}

				msg, err := game.Parse(data)
				if err != nil || msg.ID() != uint16(j) {
					t.Errorf("client %d: got reply %v (err %v), want id %d", clientID, msg.ID(), err, j)
					atomic.AddInt64(&failures, 1)
					return
				}
				atomic.AddInt64(&messagesReceived, 1)
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(startTime)

	t.Logf("Stress Test Results:")
	t.Logf("  Clients: %d", numClients)
	t.Logf("  Messages received: %d/%d", messagesReceived, numClients*messagesPerClient)
	t.Logf("  Failures: %d", failures)
	t.Logf("  Duration: %v", duration)

	if failures > 0 {
		t.Fatalf("%d clients failed", failures)
	}
}
