package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case RoomView:
		o.printRoomView(v)
	case JoinResult:
		o.printJoinResult(v)
	case ValidateResult:
		o.printValidateResult(v)
	case StatusResult:
		o.printStatusResult(v)
	case BulkResult:
		o.printBulkResult(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Room response type (matches API)
type Room struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	HostID       string `json:"host_id"`
	Status       string `json:"status"`
	ActivityType string `json:"activity_type,omitempty"`
	MaxPlayers   int    `json:"max_players"`
}

// Player response type
type Player struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Connected bool   `json:"is_connected"`
	InGame    bool   `json:"in_game"`
	Location  string `json:"current_location"`
}

// RoomView response type
type RoomView struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`
}

// JoinResult response type
type JoinResult struct {
	Room         Room     `json:"room"`
	Players      []Player `json:"players"`
	SessionToken string   `json:"session_token"`
	Rejoin       bool     `json:"rejoin"`
}

// ValidateResult response type
type ValidateResult struct {
	Valid          bool   `json:"valid"`
	Status         string `json:"status"`
	ConnectedCount int    `json:"connected_count"`
	MaxPlayers     int    `json:"max_players"`
}

// StatusResult response type
type StatusResult struct {
	Applied struct {
		Connected bool   `json:"isConnected"`
		InGame    bool   `json:"inGame"`
		Location  string `json:"currentLocation"`
	} `json:"applied"`
	Conflicts []struct {
		Rule     string `json:"rule"`
		Detail   string `json:"detail"`
		Resolved bool   `json:"resolved"`
	} `json:"conflicts"`
}

// BulkResult response type
type BulkResult struct {
	Applied    []string `json:"applied"`
	Failed     []string `json:"failed"`
	RolledBack bool     `json:"rolled_back"`
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (o *Output) printRoom(r Room) {
	fmt.Printf("Room: %s\n", r.Code)
	fmt.Printf("Status: %s\n", r.Status)
	if r.ActivityType != "" {
		fmt.Printf("Activity: %s\n", r.ActivityType)
	}
	fmt.Printf("Max Players: %d\n", r.MaxPlayers)
}

func (o *Output) printPlayers(players []Player) {
	fmt.Printf("Players (%d):\n", len(players))
	for _, p := range players {
		state := "disconnected"
		if p.Connected {
			state = p.Location
		}
		hostStr := ""
		if p.Role == "host" {
			hostStr = " [host]"
		}
		fmt.Printf("  - %s (%s) - %s%s\n", p.Name, p.UserID, state, hostStr)
	}
}

func (o *Output) printRoomView(v RoomView) {
	o.printRoom(v.Room)
	o.printPlayers(v.Players)
}

func (o *Output) printJoinResult(j JoinResult) {
	o.printRoom(j.Room)
	o.printPlayers(j.Players)
	if j.Rejoin {
		fmt.Println("Rejoined existing membership")
	}
	fmt.Printf("Session: %s\n", j.SessionToken)
}

func (o *Output) printValidateResult(v ValidateResult) {
	if !v.Valid {
		fmt.Println("Room is not joinable")
		return
	}
	fmt.Printf("Room is joinable (%s), %d/%d connected\n", v.Status, v.ConnectedCount, v.MaxPlayers)
}

func (o *Output) printStatusResult(s StatusResult) {
	fmt.Printf("Applied: connected=%t in_game=%t location=%s\n",
		s.Applied.Connected, s.Applied.InGame, s.Applied.Location)
	for _, c := range s.Conflicts {
		fmt.Printf("Conflict resolved: %s (%s)\n", c.Rule, c.Detail)
	}
}

func (o *Output) printBulkResult(b BulkResult) {
	fmt.Printf("Applied: %d, Failed: %d\n", len(b.Applied), len(b.Failed))
	if b.RolledBack {
		fmt.Println("Rolled back")
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Printf("Status: %s\n", h.Status)
	fmt.Printf("Store: %s\n", h.Store)
}
