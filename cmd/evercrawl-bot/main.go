package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/EverCrawl/game"
)

var (
	serverURL string
	token     string
	count     int
	messageID uint16
	payload   string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "evercrawl-bot",
	Short:         "Exercise an EverCrawl server as a single client",
	Long:          "Authenticate with a token, send messages and print every reply the server sends back.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if token == "" {
			token = uuid.NewString()
		}

		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := dialer.DialContext(cmd.Context(), serverURL, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
			return fmt.Errorf("failed to send token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "authenticating as %s\n", token)

		for i := 0; i < count; i++ {
			if err := exchange(cmd, conn, i); err != nil {
				return err
			}
		}

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		return nil
	},
}

// exchange sends message n and waits for one reply.
func exchange(cmd *cobra.Command, conn *websocket.Conn, n int) error {
	frame, err := game.Build(messageID, []byte(fmt.Sprintf("%s #%d", payload, n)))
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return fmt.Errorf("server closed the connection: %d %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Errorf("failed to read reply: %w", err)
	}

	if kind == websocket.TextMessage {
		return fmt.Errorf("server rejected the session: %s", data)
	}

	msg, err := game.Parse(data)
	if err != nil {
		return fmt.Errorf("bad reply: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "id=%d size=%d payload=%q\n", msg.ID(), msg.Size(), msg.Payload())
	return nil
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://127.0.0.1:8080/ws", "Server WebSocket URL")
	rootCmd.Flags().StringVar(&token, "token", "", "Authentication token (random if empty)")
	rootCmd.Flags().IntVar(&count, "count", 3, "Number of messages to send")
	rootCmd.Flags().Uint16Var(&messageID, "id", 1, "Message id")
	rootCmd.Flags().StringVar(&payload, "payload", "hello", "Message payload prefix")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Connect and reply timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evercrawl-bot: %v\n", err)
		os.Exit(1)
	}
}
