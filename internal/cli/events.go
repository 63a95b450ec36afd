package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		jsonOutput  bool
		userID      string
		displayName string
	)

	cmd := &cobra.Command{
		Use:   "events <code>",
		Short: "Stream events from a room over websocket",
		Long: `Connect to the realtime endpoint, join the room, and stream its events.

Events include:
  - playerJoined: A player joined or rejoined
  - playerLeft: A player left
  - playerStatusUpdated: A player's status changed
  - playerDisconnected: A player's connection was lost
  - roomStatusChanged: Room status transition
  - roomStatusSync: Full room resync
  - hostTransferred: Host role moved to another player
  - statusConflictResolved: A status disagreement was settled

Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(args[0], userID, displayName, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")
	cmd.Flags().StringVar(&userID, "user", "", "User ID to join as (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name to join as (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func streamEvents(roomCode, userID, displayName string, jsonOutput bool) error {
	wsURL, err := websocketURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	join := map[string]any{
		"type":        "joinRoom",
		"roomCode":    roomCode,
		"userId":      userID,
		"displayName": displayName,
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	if !jsonOutput {
		fmt.Printf("Connected to room %s\n", roomCode)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				if !jsonOutput {
					fmt.Println("\nDisconnected")
				}
				return nil
			}
			return fmt.Errorf("stream error: %w", err)
		}
		printEvent(raw, jsonOutput)
	}
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}

func printEvent(raw []byte, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(string(raw))
		return
	}

	var envelope struct {
		Type string `json:"type"`
	}
	eventType := "unknown"
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Type != "" {
		eventType = envelope.Type
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	display := string(raw)
	if len(display) > 100 {
		display = display[:100] + "..."
	}
	fmt.Printf("[%s] %s: %s\n", timestamp, eventType, display)
}
